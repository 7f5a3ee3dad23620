// Package lua runs Redis-style Lua scripts on gopher-lua.
//
// Scripts see KEYS and ARGV tables and a redis table with call, pcall,
// status_reply, error_reply and sha1hex. Commands issued through
// redis.call are handed to a Caller supplied by the server, so a script
// runs exactly the commands a client could send, with the same
// propagation to replicas.
//
// Reply conversion follows Redis: integers become numbers, bulk strings
// become strings, a null bulk string becomes false, status and error
// replies become tables with an ok or err field. On the way back numbers
// are truncated to integers, true becomes 1 and false becomes nil.
package lua
