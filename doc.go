/*
Package xlayer provides facilities to declare HTTP modules, bind them to values and compose them under path
prefixes into a single http.Handler, the Layer.

Basics

A module type declares its capabilities once, in a Class created by Define or MustDefine. Declarations are
method expressions registered by name on a Builder: routes, health checks, startup and shutdown hooks and
exception handlers keyed by ErrorKind. A derived module type can Inherit the declarations of the type it embeds
and override them by name.

Bind resolves every declaration of a Class against one module value and produces an Instance: a gorilla/mux
router with the module routes, a composite health check, a Lifecycle with the module hooks and the module
exception handlers. Module types usually embed the *Instance returned by Bind so they satisfy Module.

A Layer mounts Module's under prefixes. Routes of a module are only reachable under its prefix. The Layer keeps
the global exception handler table (the last mounted module wins for a given ErrorKind), aggregates the health
checks of every module and of its own at /_health and fires the lifecycle events of everything mounted on it.

Hosting

Host builds a Layer from configuration. Each HostConfig section (default `layer`) lists ModuleConfig's, built by
the ModuleFactory registered in a Registry for their binding, and ServerConfig's. Each ServerConfig maps to one
Server/http.Server per BindPointConfig, optionally listening with TLS using an identity. Configuration is expected
as a map of interface{}-to-interface{} values, LoadConfigFile produces one from YAML.
*/
package xlayer
