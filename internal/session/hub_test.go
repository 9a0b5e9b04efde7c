package session

import (
	"testing"
	"time"

	"github.com/montage-studio/montage"
)

func drain(c *Conn) []montage.ServerFrame {
	var out []montage.ServerFrame
	for {
		select {
		case f := <-c.Frames():
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestJoinAnnouncesToOthers(t *testing.T) {
	hub := NewHub(16, 0)

	alice := hub.Join("p1", "alice", montage.RoleEditor)
	bob := hub.Join("p1", "bob", montage.RoleViewer)

	frames := drain(alice)
	if len(frames) != 1 || frames[0].Type != montage.ServerFrameUserJoined {
		t.Fatalf("expected user_joined for alice, got %+v", frames)
	}
	if frames[0].Presence.UserID != "bob" {
		t.Fatalf("wrong presence user: %+v", frames[0].Presence)
	}
	if got := drain(bob); len(got) != 0 {
		t.Fatalf("joining connection must not see its own join: %+v", got)
	}
}

func TestLeaveAnnouncesOnlyWhenLastConnection(t *testing.T) {
	hub := NewHub(16, 0)

	alice := hub.Join("p1", "alice", montage.RoleEditor)
	bobA := hub.Join("p1", "bob", montage.RoleEditor)
	bobB := hub.Join("p1", "bob", montage.RoleEditor)
	drain(alice)

	hub.Leave(bobA)
	if got := drain(alice); len(got) != 0 {
		t.Fatalf("user with another open connection must not appear to leave: %+v", got)
	}

	hub.Leave(bobB)
	got := drain(alice)
	if len(got) != 1 || got[0].Type != montage.ServerFrameUserLeft || got[0].Presence.UserID != "bob" {
		t.Fatalf("expected user_left for bob, got %+v", got)
	}
}

func TestUsersListsOneRecordPerUser(t *testing.T) {
	hub := NewHub(16, 0)

	hub.Join("p1", "alice", montage.RoleEditor)
	hub.Join("p1", "alice", montage.RoleEditor)
	hub.Join("p1", "bob", montage.RoleViewer)

	users := hub.Users("p1")
	if len(users) != 2 {
		t.Fatalf("expected 2 users got %d", len(users))
	}
	for _, u := range users {
		if u.Color == "" {
			t.Fatalf("presence record missing color: %+v", u)
		}
	}
}

func TestCommitDeliveryPerConnection(t *testing.T) {
	hub := NewHub(16, 0)

	author := hub.Join("p1", "alice", montage.RoleEditor)
	other := hub.Join("p1", "bob", montage.RoleEditor)
	drain(author)
	drain(other)

	op := montage.Operation{ID: "op-1", Author: "alice", ProjectID: "p1", Kind: montage.OpInsertClip, ClientSeq: 7}
	delta := montage.Delta{ProjectID: "p1", Revision: 3, OpID: "op-1"}
	hub.OperationCommitted(op, delta, author.ID)

	af := drain(author)
	if len(af) != 1 || af[0].Type != montage.ServerFrameOutcome {
		t.Fatalf("author must receive the outcome frame, got %+v", af)
	}
	if af[0].Seq != 7 || af[0].Outcome == nil || af[0].Outcome.Delta == nil {
		t.Fatalf("outcome frame incomplete: %+v", af[0])
	}

	of := drain(other)
	if len(of) != 1 || of[0].Type != montage.ServerFrameDelta || of[0].Revision != 3 {
		t.Fatalf("other connections must receive the delta frame, got %+v", of)
	}
}

func TestCommitOrderPreservedPerConnection(t *testing.T) {
	hub := NewHub(16, 0)

	conn := hub.Join("p1", "alice", montage.RoleEditor)
	for rev := int64(1); rev <= 5; rev++ {
		hub.OperationCommitted(
			montage.Operation{ID: "op", Author: "bob", ProjectID: "p1"},
			montage.Delta{ProjectID: "p1", Revision: rev},
			"someone-else",
		)
	}

	frames := drain(conn)
	if len(frames) != 5 {
		t.Fatalf("expected 5 delta frames got %d", len(frames))
	}
	for i, f := range frames {
		if f.Revision != int64(i+1) {
			t.Fatalf("revision order violated at %d: %+v", i, f)
		}
	}
}

func TestSlowConsumerIsEvictedNotSkipped(t *testing.T) {
	hub := NewHub(2, 0)

	conn := hub.Join("p1", "alice", montage.RoleEditor)
	for rev := int64(1); rev <= 5; rev++ {
		hub.OperationCommitted(
			montage.Operation{ID: "op", ProjectID: "p1"},
			montage.Delta{ProjectID: "p1", Revision: rev},
			"other",
		)
	}

	select {
	case <-conn.Closed():
	default:
		t.Fatalf("overflowing connection must be evicted")
	}
}

func TestCursorRateLimitDropsExcess(t *testing.T) {
	hub := NewHub(16, 10) // 100ms between cursor updates

	conn := hub.Join("p1", "alice", montage.RoleEditor)
	if !hub.AcceptCursor(conn) {
		t.Fatalf("first cursor update must pass")
	}
	if hub.AcceptCursor(conn) {
		t.Fatalf("immediate second update must be dropped")
	}
	time.Sleep(110 * time.Millisecond)
	if !hub.AcceptCursor(conn) {
		t.Fatalf("update after the interval must pass")
	}
}

func TestCursorFansOutToOthersOnly(t *testing.T) {
	hub := NewHub(16, 0)

	alice := hub.Join("p1", "alice", montage.RoleEditor)
	bob := hub.Join("p1", "bob", montage.RoleViewer)
	drain(alice)
	drain(bob)

	hub.Cursor(alice, montage.Cursor{Track: 1, OffsetMS: 4200})

	if got := drain(alice); len(got) != 0 {
		t.Fatalf("sender must not receive its own cursor: %+v", got)
	}
	got := drain(bob)
	if len(got) != 1 || got[0].Type != montage.ServerFramePresence {
		t.Fatalf("expected presence frame, got %+v", got)
	}
	if got[0].Presence.Cursor.OffsetMS != 4200 {
		t.Fatalf("cursor position lost: %+v", got[0].Presence)
	}
}

func TestAcceptSeqDeduplicates(t *testing.T) {
	hub := NewHub(16, 0)
	conn := hub.Join("p1", "alice", montage.RoleEditor)

	if !conn.AcceptSeq(1) || !conn.AcceptSeq(2) {
		t.Fatalf("fresh sequence numbers must pass")
	}
	if conn.AcceptSeq(2) || conn.AcceptSeq(1) {
		t.Fatalf("replayed sequence numbers must be dropped")
	}
	if !conn.AcceptSeq(5) {
		t.Fatalf("skipping ahead is allowed")
	}
}
