// Package config loads the apid daemon configuration.
//
// Values come, in increasing precedence, from built-in defaults, the
// configuration file (apid.yaml in the working directory, or the path
// given with --config) and APID_ environment variables, where dots become
// underscores: APID_SESSION_SEND_QUEUE overrides session.send_queue.
//
// # Configuration File Structure
//
//	server:
//	  port: 7443
//	  unix_socket: /run/apid.sock
//	  trusted_proxies: [127.0.0.1]
//	http:
//	  root_path: /usr/share/apid/www
//	permissions:
//	  jwt_secret: change-me
//	  trusted_identities: [uds]
//	settings:
//	  db_path: /var/lib/apid/settings.db
//	  defaults_path: /etc/apid/settings.json
//	contacts:
//	  db_path: /var/lib/apid/contacts.db
//	log:
//	  level: info
//	  format: json
//
// # Usage
//
//	loader := config.NewLoader(path, logger)
//	cfg, err := loader.Load()
//	if err != nil {
//	    return err
//	}
//	loader.OnChange(func(c *config.Config) { logging.SetLevel(level, c.Log.Level) })
//	loader.Watch()
package config
