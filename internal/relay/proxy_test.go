package relay

import (
	"strings"
	"testing"

	"github.com/remote-access-relay/backend/internal/model"
	"github.com/remote-access-relay/backend/internal/protocol"
)

// rdpData extracts the instruction strings carried by rdp:data messages
// on a transport, in send order.
func rdpData(t *testing.T, transport *fakeTransport) []string {
	t.Helper()
	var out []string
	for _, env := range transport.messages(t) {
		if env.Type != protocol.TypeRDPData {
			continue
		}
		out = append(out, unmarshalPayload[protocol.DataPayload](t, env).Data)
	}
	return out
}

func sendAgentData(t *testing.T, f *relayFixture, link *AgentLink, sessionID, data string) {
	t.Helper()
	f.relay.HandleAgentMessage(link, wireMessage(t, protocol.TypeRDPData, protocol.DataPayload{
		SessionID: sessionID,
		Data:      data,
	}))
}

func TestRemoteDesktopNegotiation(t *testing.T) {
	f := setupRelay(t)
	link, agentT := connectAgent(t, f, "pi-rdp", model.CapSSH|model.CapRDP)
	browserID, browserT := connectBrowser(f)

	f.relay.HandleBrowserMessage(browserID, wireMessage(t, protocol.TypeRDPSessionRequest, protocol.SessionRequestPayload{
		SessionID: "s-rdp",
		DeviceID:  "pi-rdp",
		Cols:      1280,
		Rows:      720,
		Settings: map[string]string{
			"hostname": "10.0.0.5",
			"username": "pi",
		},
	}))
	f.relay.HandleAgentMessage(link, wireMessage(t, protocol.TypeRDPSessionResponse, protocol.SessionResponsePayload{
		SessionID: "s-rdp",
		Success:   true,
	}))

	// Accepting opens the negotiation: the agent sees a select first.
	sent := rdpData(t, agentT)
	if len(sent) == 0 {
		t.Fatalf("no negotiation traffic reached the agent")
	}
	if sent[len(sent)-1] != "6.select,3.rdp;" {
		t.Fatalf("expected select instruction, got %q", sent[len(sent)-1])
	}

	// The agent answers with its argument names, split across two data
	// messages to exercise reassembly.
	args := "4.args,13.VERSION_1_5_0,8.hostname,4.port,8.username,8.password;"
	sendAgentData(t, f, link, "s-rdp", args[:17])
	sendAgentData(t, f, link, "s-rdp", args[17:])

	sent = rdpData(t, agentT)
	joined := strings.Join(sent, "\n")
	if !strings.Contains(joined, "4.size,4.1280,3.720,2.96;") {
		t.Errorf("size reply missing or wrong:\n%s", joined)
	}
	if !strings.Contains(joined, "5.audio,9.audio/L16;") {
		t.Errorf("audio reply missing or wrong:\n%s", joined)
	}
	if !strings.Contains(joined, "5.image,9.image/png,10.image/jpeg;") {
		t.Errorf("image reply missing or wrong:\n%s", joined)
	}
	connect := sent[len(sent)-1]
	if !strings.HasPrefix(connect, "7.connect,") {
		t.Fatalf("negotiation did not end with connect: %q", connect)
	}
	// Argument order follows the agent's args: the version name echoed
	// first, then the requested values, with unknown parameters empty.
	if connect != "7.connect,13.VERSION_1_5_0,8.10.0.0.5,0.,2.pi,0.;" {
		t.Errorf("unexpected connect instruction: %q", connect)
	}

	// Nothing of the negotiation leaks to the browser.
	if got := rdpData(t, browserT); len(got) != 0 {
		t.Errorf("negotiation traffic reached the browser: %v", got)
	}

	// After connect, agent instructions flow to the browser re-segmented
	// on instruction boundaries.
	sendAgentData(t, f, link, "s-rdp", "4.sync,8.12345678;5.mouse,")
	sendAgentData(t, f, link, "s-rdp", "3.100,3.200;")
	got := rdpData(t, browserT)
	if len(got) != 2 || got[0] != "4.sync,8.12345678;" || got[1] != "5.mouse,3.100,3.200;" {
		t.Errorf("instructions not re-segmented toward the browser: %v", got)
	}

	// Browser input still travels to the agent untouched.
	before := len(rdpData(t, agentT))
	f.relay.HandleBrowserMessage(browserID, wireMessage(t, protocol.TypeRDPData, protocol.DataPayload{
		SessionID: "s-rdp",
		Data:      "3.key,5.65293,1.1;",
	}))
	after := rdpData(t, agentT)
	if len(after) != before+1 || after[len(after)-1] != "3.key,5.65293,1.1;" {
		t.Errorf("browser input not forwarded verbatim")
	}
}

func TestRemoteDesktopTunnelTornDownOnClose(t *testing.T) {
	f := setupRelay(t)
	link, _ := connectAgent(t, f, "pi-rdp", model.CapRDP|model.CapSSH)
	browserID, browserT := connectBrowser(f)

	f.relay.HandleBrowserMessage(browserID, wireMessage(t, protocol.TypeRDPSessionRequest, protocol.SessionRequestPayload{
		SessionID: "s-gone",
		DeviceID:  "pi-rdp",
	}))
	f.relay.HandleAgentMessage(link, wireMessage(t, protocol.TypeRDPSessionResponse, protocol.SessionResponsePayload{
		SessionID: "s-gone",
		Success:   true,
	}))
	f.relay.HandleBrowserMessage(browserID, wireMessage(t, protocol.TypeRDPClose, protocol.ClosePayload{
		SessionID: "s-gone",
	}))

	// Data after close is dropped, not tunneled.
	before := len(browserT.messages(t))
	sendAgentData(t, f, link, "s-gone", "4.sync,1.0;")
	if len(browserT.messages(t)) != before {
		t.Errorf("data after close still reached the browser")
	}
}

func TestRemoteDesktopBufferOverflow(t *testing.T) {
	f := setupRelay(t)
	link, agentT := connectAgent(t, f, "pi-rdp", model.CapRDP|model.CapSSH)
	browserID, _ := connectBrowser(f)

	f.relay.HandleBrowserMessage(browserID, wireMessage(t, protocol.TypeRDPSessionRequest, protocol.SessionRequestPayload{
		SessionID: "s-flood",
		DeviceID:  "pi-rdp",
	}))
	f.relay.HandleAgentMessage(link, wireMessage(t, protocol.TypeRDPSessionResponse, protocol.SessionResponsePayload{
		SessionID: "s-flood",
		Success:   true,
	}))

	// An endless unterminated instruction accumulates until the cap trips.
	chunk := strings.Repeat("a", 64*1024)
	for i := 0; i < 17; i++ {
		sendAgentData(t, f, link, "s-flood", chunk)
	}

	if _, ok := f.sessions.Get("s-flood"); ok {
		t.Errorf("session survived a tunnel buffer overflow")
	}
	if agentT.IsOpen() {
		t.Errorf("agent transport left open after overflow")
	}
}
