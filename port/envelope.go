package port

// envelope wraps every RTO response payload with the result/error split the
// teacher's RPCMessage applies to whole requests: the decode/dispatch path
// (protocol violations) panics rather than ever reaching here, while a
// module-level error returned by a service method's Go error return is
// carried in Err and the success payload in Payload — so a method error is
// "encoded in the payload and returned to the caller like any other value"
// rather than surfaced as a transport-level failure.
type envelope struct {
	Payload []byte
	Err     string
}
