// Example coderun.yaml:
//
//	logging:
//	  mode: development
//	  level: debug
//	sandbox:
//	  default_timeout: 10s
//	  recycle_on_timeout: true
//	  allowed_hosts: [api.example.com]
//	runtimes:
//	  python:
//	    module: /var/lib/coderun/python.wasm
//	  ruby:
//	    module: /var/lib/coderun/ruby.wasm
//	    timeout: 45s
//	server:
//	  addr: ":8080"
package config
