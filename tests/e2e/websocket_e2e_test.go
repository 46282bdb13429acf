//go:build e2e
// +build e2e

package e2e

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var blockCounter atomic.Int64

// freshBlock returns coordinates in a block no other test has used
func freshBlock() (float64, float64) {
	n := float64(blockCounter.Add(1))
	return 10 + n/2, -40 + n/2
}

func TestE2E_BindAndPost(t *testing.T) {
	tc := NewLoggedInClient(t, "ws_post")
	lat, long := freshBlock()

	s := tc.DialSession(t, lat, long)
	s.Post("the fountain is off on mondays")

	frame := s.ExpectFrame("post")
	msg := decodeMessage(t, frame.Data)
	if msg.ID == 0 {
		t.Fatal("expected posted message to carry an id")
	}
	if msg.Message != "the fountain is off on mondays" {
		t.Fatalf("unexpected message text %q", msg.Message)
	}
	if msg.Votes != 1 {
		t.Fatalf("expected a fresh message to start at 1 vote, got %d", msg.Votes)
	}

	// The author must not be notified about their own post.
	s.ExpectNoFrame(2 * time.Second)
}

func TestE2E_NeighborNotification(t *testing.T) {
	author := NewLoggedInClient(t, "ws_author")
	neighbor := NewLoggedInClient(t, "ws_neighbor")
	lat, long := freshBlock()

	authorSession := author.DialSession(t, lat, long)
	neighborSession := neighbor.DialSession(t, lat, long)

	authorSession.Post("free figs on the corner tree")
	authorSession.ExpectFrame("post")

	notify := neighborSession.ExpectFrame("notify")
	msg := decodeMessage(t, notify.Data)
	if msg.Message != "free figs on the corner tree" {
		t.Fatalf("unexpected notification text %q", msg.Message)
	}
}

func TestE2E_DuplicatePostRejected(t *testing.T) {
	tc := NewLoggedInClient(t, "ws_dup")
	lat, long := freshBlock()

	s := tc.DialSession(t, lat, long)

	s.Post("same words")
	s.ExpectFrame("post")

	s.Post("SAME WORDS")
	frame := s.ExpectFrame("error")
	if !strings.Contains(string(frame.Data), "duplicate") {
		t.Fatalf("expected duplicate error, got %s", frame.Data)
	}
}

func TestE2E_Votes(t *testing.T) {
	tc := NewLoggedInClient(t, "ws_votes")
	lat, long := freshBlock()

	s := tc.DialSession(t, lat, long)
	s.Post("rate this bench")
	posted := decodeMessage(t, s.ExpectFrame("post").Data)

	s.Vote(7, posted.ID)
	var vote struct {
		ID      int64 `json:"id"`
		Votes   int   `json:"votes"`
		Success bool  `json:"success"`
	}
	frame := s.ExpectFrame("vote")
	if err := json.Unmarshal(frame.Data, &vote); err != nil {
		t.Fatalf("failed to decode vote payload: %v", err)
	}
	if !vote.Success || vote.Votes != 2 {
		t.Fatalf("expected successful upvote to 2, got %+v", vote)
	}

	s.Vote(8, posted.ID)
	frame = s.ExpectFrame("vote")
	if err := json.Unmarshal(frame.Data, &vote); err != nil {
		t.Fatalf("failed to decode vote payload: %v", err)
	}
	if !vote.Success || vote.Votes != 1 {
		t.Fatalf("expected successful downvote to 1, got %+v", vote)
	}
}

func TestE2E_VoteUnknownMessage(t *testing.T) {
	tc := NewLoggedInClient(t, "ws_badvote")
	lat, long := freshBlock()

	s := tc.DialSession(t, lat, long)
	s.Vote(7, 99999999)

	frame := s.ExpectFrame("vote")
	var vote struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(frame.Data, &vote); err != nil {
		t.Fatalf("failed to decode vote payload: %v", err)
	}
	if vote.Success {
		t.Fatal("expected vote on unknown message to fail")
	}
}

func TestE2E_RetrieveRanked(t *testing.T) {
	tc := NewLoggedInClient(t, "ws_ranked")
	lat, long := freshBlock()

	s := tc.DialSession(t, lat, long)

	s.Post("first drop")
	first := decodeMessage(t, s.ExpectFrame("post").Data)
	s.Post("second drop")
	second := decodeMessage(t, s.ExpectFrame("post").Data)

	s.Vote(7, second.ID)
	s.ExpectFrame("vote")

	s.Retrieve(2, 1)
	page := decodePage(t, s.ExpectFrame("retrieve").Data)

	if page.Page != 1 || page.TotalPages != 1 {
		t.Fatalf("expected single page, got page %d of %d", page.Page, page.TotalPages)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(page.Messages))
	}
	if page.Messages[0].ID != second.ID {
		t.Fatalf("expected the upvoted message first, got id %d", page.Messages[0].ID)
	}
	if page.Messages[1].ID != first.ID {
		t.Fatalf("expected the other message second, got id %d", page.Messages[1].ID)
	}
}

func TestE2E_RetrieveMarksSeen(t *testing.T) {
	tc := NewLoggedInClient(t, "ws_seen")
	lat, long := freshBlock()

	s := tc.DialSession(t, lat, long)
	s.Post("count my views")
	s.ExpectFrame("post")

	s.Retrieve(3, 1)
	s.ExpectFrame("retrieve")

	// The second retrieval reflects the first one's seen bump. A fresh
	// query context is forced by switching retrieval kind.
	s.Retrieve(2, 1)
	page := decodePage(t, s.ExpectFrame("retrieve").Data)
	if len(page.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(page.Messages))
	}
	if page.Messages[0].Seen < 1 {
		t.Fatalf("expected seen count of at least 1, got %d", page.Messages[0].Seen)
	}
}

func TestE2E_RetrieveRange(t *testing.T) {
	tc := NewLoggedInClient(t, "ws_range")
	lat, long := freshBlock()

	s := tc.DialSession(t, lat, long)
	s.Post("drop at home block")
	s.ExpectFrame("post")

	s.ChangeCell(lat, long+0.3)
	s.ExpectFrame("socket")
	s.Post("drop one block east")
	s.ExpectFrame("post")

	// A wide enough box centered east still covers the home block.
	s.RetrieveRange(1, 1)
	page := decodePage(t, s.ExpectFrame("retrieve").Data)
	if len(page.Messages) != 2 {
		t.Fatalf("expected both blocks' messages, got %d", len(page.Messages))
	}
}

func TestE2E_ChangeCell(t *testing.T) {
	tc := NewLoggedInClient(t, "ws_move")
	lat, long := freshBlock()
	otherLat, otherLong := freshBlock()

	s := tc.DialSession(t, lat, long)
	s.Post("left behind")
	s.ExpectFrame("post")

	s.ChangeCell(otherLat, otherLong)
	s.ExpectFrame("socket")

	// The new block has no messages.
	s.Retrieve(3, 1)
	page := decodePage(t, s.ExpectFrame("retrieve").Data)
	if len(page.Messages) != 0 {
		t.Fatalf("expected empty block after move, got %d messages", len(page.Messages))
	}
}

func TestE2E_ChangeCellLeavesOldBlock(t *testing.T) {
	mover := NewLoggedInClient(t, "ws_mover")
	poster := NewLoggedInClient(t, "ws_poster")
	lat, long := freshBlock()
	farLat, farLong := freshBlock()

	moverSession := mover.DialSession(t, lat, long)
	posterSession := poster.DialSession(t, lat, long)

	moverSession.ChangeCell(farLat, farLong)
	moverSession.ExpectFrame("socket")

	posterSession.Post("nobody left to hear this")
	posterSession.ExpectFrame("post")

	moverSession.ExpectNoFrame(2 * time.Second)
}

func TestE2E_CloseFrame(t *testing.T) {
	tc := NewLoggedInClient(t, "ws_close")
	lat, long := freshBlock()

	s := tc.DialSession(t, lat, long)
	s.Close()

	frame := s.ExpectFrame("socket")
	if !strings.Contains(string(frame.Data), "goodbye") {
		t.Fatalf("expected farewell frame, got %s", frame.Data)
	}
}

func TestE2E_BindWithBadToken(t *testing.T) {
	lat, long := freshBlock()

	conn, _, err := dialRaw()
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"lat": lat, "long": long, "token": "bogus"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame ServerFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if frame.Category != "error" {
		t.Fatalf("expected error frame, got %q", frame.Category)
	}

	// The server drops the connection after a failed bind.
	if err := conn.ReadJSON(&frame); err == nil {
		t.Fatal("expected connection to be closed after failed bind")
	}
}
