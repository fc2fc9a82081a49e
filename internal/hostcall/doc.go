// Package hostcall implements the synchronous native functions exposed to
// test scripts.
//
// The set of calls is closed. Each call is a Go type implementing Call,
// with typed arguments decoded strictly from JSON and a typed result.
// Dispatch is the wire entry point: it takes a call name and a JSON
// payload and always returns a JSON envelope,
//
//	{"ok":true,"result":{...}}
//	{"ok":false,"error":{"code":"SessionNotFound","message":"..."}}
//
// No failure, including a panic inside the simulator, crosses the
// boundary as anything other than an error envelope.
package hostcall
