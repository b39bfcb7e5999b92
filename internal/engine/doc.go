// Package engine runs request engines on top of a connection's shed. The
// Dispatcher supplies the shed initializer that starts a runner per engine;
// each runner processes its base request, pulls further requests until the
// shed reports end of queue or abort, and records the engine exit.
package engine
