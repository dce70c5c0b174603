package pdu

// OtherProtocol names a payload protocol id missing from the registry.
const OtherProtocol = "Other"

// SCTP payload protocol identifiers of the decoded message sets.
const (
	PPIDNGAP uint32 = 60
	PPIDF1AP uint32 = 62
)

// payloadProtocols is the subset of the IANA SCTP payload protocol
// identifier registry seen on cellular signaling links.
var payloadProtocols = map[uint32]string{
	18: "S1AP",
	19: "RUA",
	20: "HNBAP",
	24: "SBc-AP",
	25: "NBAP",
	26: "Unassigned",
	27: "X2AP",
	29: "LCS-AP",
	42: "RNA",
	43: "M2AP",
	44: "M3AP",
	55: "PUA",
	58: "XwAP",
	59: "Xw-Control Plane",
	60: "NGAP",
	61: "XnAP",
	62: "F1 AP",
	64: "E1AP",
	66: "DTLS(NGAP)",
	67: "DTLS(XnAP)",
	68: "DTLS(F1AP)",
	69: "DTLS(E1AP)",
	70: "E2-CP",
	71: "E2-UP",
	72: "E2-DU",
	73: "3GPP W1AP",
}

// ProtocolName returns the registry name of id, or OtherProtocol.
func ProtocolName(id uint32) string {
	if name, ok := payloadProtocols[id]; ok {
		return name
	}
	return OtherProtocol
}
