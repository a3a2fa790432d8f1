// Package ltp drives pretrained LTP (Language Technology Platform) Chinese
// NLP checkpoints from Go.
//
// LTP is distributed as a Python library, so each loaded checkpoint lives in
// its own worker process running a small embedded helper (worker.py). The
// Go side talks to it over stdin/stdout with one JSON object per line:
//
//	-> {"id":"<uuid>","op":"pipeline","args":{"sentences":[...],"tasks":[...]}}
//	<- {"id":"<uuid>","ok":true,"result":{"cws":[...],...}}
//
// The worker announces {"id":"ready"} once the checkpoint is loaded. Errors
// raised by the library come back as {"ok":false,"error":"..."} and are
// returned unchanged as *WorkerError; this package does not validate task
// lists or checkpoint contents itself.
//
// The reply stream belongs to the helper alone. At startup it keeps a
// private copy of its stdout for replies and points file descriptor 1 at
// stderr, so progress bars and print calls from the library, torch or
// huggingface end up in the stderr tail attached to worker errors instead of
// corrupting the protocol.
//
// A worker's life:
//  1. Load launches it and waits for the ready reply
//  2. Model methods send one request each and wait for the matching reply;
//     calls are serialized
//  3. Close closes the worker's stdin, which ends the helper's read loop,
//     and waits for the process to exit
//
// Where the worker runs is decided by a Launcher: ExecLauncher starts a
// local interpreter, docker.WorkerLauncher starts a container.
package ltp
