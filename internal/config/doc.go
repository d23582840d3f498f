// Package config loads the client configuration.
//
// A configuration file declares services, the protocols each service
// mounts (rest, sse, websocket) and the plugins attached at the global,
// service and protocol level:
//
//	mock:
//	  enabled: ${MOCK_ENABLED:-false}
//	plugins:
//	  - type: logging
//	services:
//	  - name: users
//	    rest:
//	      baseURL: https://api.example.com
//	      timeout: 10s
//	    plugins:
//	      - type: mocker
//	        mocker:
//	          fixtures:
//	            - method: GET
//	              path: /users
//	              body: [{id: "1"}]
//
// Environment variables are substituted with ${VAR} and ${VAR:-default};
// "$$" yields a literal dollar sign. LoadConfig applies defaults and
// validates, returning a *util.ValidationError that lists every invalid
// field. Watcher reloads the file on change and hands each valid
// configuration to a callback.
package config
