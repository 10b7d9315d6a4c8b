package ws

import (
	"bytes"
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/cwrk-planet/ecotalk-server/internal/domain"
)

// ClassifySignal определяет вид WebRTC-пейлоада по типам pion. Сам пейлоад
// не меняется и пересылается как есть; нераспознанное — SignalUnknown.
func ClassifySignal(raw json.RawMessage) domain.SignalKind {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return domain.SignalUnknown
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err == nil && desc.SDP != "" {
		switch desc.Type {
		case webrtc.SDPTypeOffer:
			return domain.SignalOffer
		case webrtc.SDPTypeAnswer:
			return domain.SignalAnswer
		}
	}

	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &cand); err == nil && cand.Candidate != "" {
		return domain.SignalCandidate
	}

	// simple-peer: {"type":"candidate","candidate":{...}}
	var wrapped struct {
		Candidate json.RawMessage `json:"candidate"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && bytes.HasPrefix(bytes.TrimSpace(wrapped.Candidate), []byte("{")) {
		if err := json.Unmarshal(wrapped.Candidate, &cand); err == nil && cand.Candidate != "" {
			return domain.SignalCandidate
		}
	}
	return domain.SignalUnknown
}

// signalKindForEvent: вид сигнала для split-событий; для signal вид определяется по пейлоаду.
func signalKindForEvent(eventType string, body json.RawMessage) domain.SignalKind {
	switch eventType {
	case TypeOffer:
		return domain.SignalOffer
	case TypeAnswer:
		return domain.SignalAnswer
	case TypeICECandidate:
		return domain.SignalCandidate
	default:
		return ClassifySignal(body)
	}
}
