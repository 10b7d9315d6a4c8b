package ws

import (
	"encoding/json"
	"testing"

	"github.com/cwrk-planet/ecotalk-server/internal/domain"
)

func TestClassifySignal(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want domain.SignalKind
	}{
		{"offer", `{"type":"offer","sdp":"v=0\r\n"}`, domain.SignalOffer},
		{"answer", `{"type":"answer","sdp":"v=0\r\n"}`, domain.SignalAnswer},
		{"candidate", `{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`, domain.SignalCandidate},
		{"wrapped candidate", `{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 1 typ host","sdpMid":"0"}}`, domain.SignalCandidate},
		{"offer without sdp", `{"type":"offer"}`, domain.SignalUnknown},
		{"renegotiate", `{"type":"renegotiate","renegotiate":true}`, domain.SignalUnknown},
		{"rollback", `{"type":"rollback","sdp":"x"}`, domain.SignalUnknown},
		{"string", `"hello"`, domain.SignalUnknown},
		{"empty", ``, domain.SignalUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ClassifySignal(json.RawMessage(c.raw)); got != c.want {
				t.Fatalf("ClassifySignal(%s)=%q, want %q", c.raw, got, c.want)
			}
		})
	}
}

func TestSignalKindForSplitEvents(t *testing.T) {
	body := json.RawMessage(`{"anything":1}`)
	if signalKindForEvent(TypeOffer, body) != domain.SignalOffer ||
		signalKindForEvent(TypeAnswer, body) != domain.SignalAnswer ||
		signalKindForEvent(TypeICECandidate, body) != domain.SignalCandidate ||
		signalKindForEvent(TypeSignal, body) != domain.SignalUnknown {
		t.Fatalf("unexpected kinds for split events")
	}
}

func TestSignalBodyPrefersSplitField(t *testing.T) {
	p := SignalInPayload{Signal: json.RawMessage(`1`), Offer: json.RawMessage(`2`)}
	if string(p.body(TypeOffer)) != "2" || string(p.body(TypeSignal)) != "1" || string(p.body(TypeAnswer)) != "1" {
		t.Fatalf("unexpected body selection")
	}
}
