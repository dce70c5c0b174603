package pdu

import (
	"encoding/json"
	"fmt"

	"github.com/free5gc/aper"
)

// F1AP-PDU (TS 38.473) envelope. The open-type value of each elementary
// procedure is kept as its APER octets, which encode exactly like an
// unconstrained OCTET STRING.
//
// TODO: decode the procedure IEs (F1SetupRequest and the UE context
// messages first) into typed containers, as ngapType does for NGAP.

const f1apPDUParams = "valueLB:0,valueUB:3"

const (
	F1APPDUPresentNothing int = iota
	F1APPDUPresentInitiatingMessage
	F1APPDUPresentSuccessfulOutcome
	F1APPDUPresentUnsuccessfulOutcome
	F1APPDUPresentChoiceExtension
)

type F1APPDU struct {
	Present             int
	InitiatingMessage   *F1APMessage
	SuccessfulOutcome   *F1APMessage
	UnsuccessfulOutcome *F1APMessage
	ChoiceExtension     *F1APSingleContainer
}

// F1APMessage is InitiatingMessage, SuccessfulOutcome and
// UnsuccessfulOutcome, which share one shape.
type F1APMessage struct {
	ProcedureCode F1APProcedureCode
	Criticality   F1APCriticality
	Value         aper.OctetString
}

type F1APSingleContainer struct {
	Id          F1APProtocolIEID
	Criticality F1APCriticality
	Value       aper.OctetString
}

type F1APProcedureCode struct {
	Value int64 `aper:"valueLB:0,valueUB:255"`
}

type F1APProtocolIEID struct {
	Value int64 `aper:"valueLB:0,valueUB:65535"`
}

const (
	F1APCriticalityReject aper.Enumerated = 0
	F1APCriticalityIgnore aper.Enumerated = 1
	F1APCriticalityNotify aper.Enumerated = 2
)

type F1APCriticality struct {
	Value aper.Enumerated `aper:"valueLB:0,valueUB:2"`
}

type f1apCodec struct{}

func (f1apCodec) Decode(b []byte) (json.RawMessage, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: f1ap: empty payload", ErrDecode)
	}
	var msg F1APPDU
	if err := aper.UnmarshalWithParams(b, &msg, f1apPDUParams); err != nil {
		return nil, fmt.Errorf("%w: f1ap: %v", ErrDecode, err)
	}
	return json.Marshal(msg)
}

func (f1apCodec) Encode(tree json.RawMessage) ([]byte, error) {
	var msg F1APPDU
	if err := json.Unmarshal(tree, &msg); err != nil {
		return nil, fmt.Errorf("f1ap: structured tree: %w", err)
	}
	if err := checkF1APPresent(msg); err != nil {
		return nil, err
	}
	return aper.MarshalWithParams(msg, f1apPDUParams)
}

func checkF1APPresent(msg F1APPDU) error {
	var ok bool
	switch msg.Present {
	case F1APPDUPresentInitiatingMessage:
		ok = msg.InitiatingMessage != nil
	case F1APPDUPresentSuccessfulOutcome:
		ok = msg.SuccessfulOutcome != nil
	case F1APPDUPresentUnsuccessfulOutcome:
		ok = msg.UnsuccessfulOutcome != nil
	case F1APPDUPresentChoiceExtension:
		ok = msg.ChoiceExtension != nil
	}
	if !ok {
		return fmt.Errorf("f1ap: alternative %d not present", msg.Present)
	}
	return nil
}
