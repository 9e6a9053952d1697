// Package receiver interprets what workers send to the collector and records
// it in the device store.
//
// On the data channel the first frame must be a Welcome; it names the device
// for the rest of the session. Later frames are counted as responses when
// they decode as a set Response envelope and as raw payloads otherwise. On
// the control channel, intro and heartbeat JSON messages update liveness.
package receiver
