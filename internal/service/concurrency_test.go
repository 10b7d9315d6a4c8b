package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cwrk-planet/ecotalk-server/internal/domain"
)

// checkRoom: не больше maxN участников и ровно один хост в непустой комнате.
func checkRoom(t *testing.T, f *fixture, roomID string, maxN int) {
	t.Helper()
	ps, err := f.members.Participants(roomID)
	if err != nil {
		t.Errorf("participants: %v", err)
		return
	}
	if len(ps) > maxN {
		t.Errorf("room over capacity: %d > %d", len(ps), maxN)
	}
	hosts := 0
	for _, p := range ps {
		if p.IsHost {
			hosts++
		}
	}
	if len(ps) > 0 && hosts != 1 {
		t.Errorf("room has %d hosts among %d participants", hosts, len(ps))
	}
}

func TestConcurrentJoinLeaveKeepsCapacityAndSingleHost(t *testing.T) {
	const (
		workers = 40
		rounds  = 50
		maxN    = 3
	)
	f := newFixture(t, Options{})
	ctx := context.Background()
	if _, err := f.rooms.CreateRoom(ctx, "owner", "owner", domain.RoomSpec{ID: "R", Name: "Busy", MaxParticipants: maxN}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			pid, conn := fmt.Sprintf("p%d", w), fmt.Sprintf("c%d", w)
			for i := 0; i < rounds; i++ {
				_, err := f.members.Join(ctx, "R", domain.ParticipantSpec{ID: pid, DisplayName: pid}, conn)
				if err != nil && !errors.Is(err, domain.ErrRoomFull) {
					t.Errorf("join %s: %v", pid, err)
					return
				}
				checkRoom(t, f, "R", maxN)
				if err == nil {
					if _, err := f.chat.PostMessage(ctx, "R", domain.MessageSpec{SenderID: pid, Content: "ping"}); err != nil {
						t.Errorf("post %s: %v", pid, err)
					}
				}

				switch i % 3 {
				case 0:
					f.members.LeaveConnection(ctx, conn)
				case 1:
					_, err := f.members.Leave(ctx, "R", pid)
					if err != nil && !errors.Is(err, domain.ErrParticipantNotFound) {
						t.Errorf("leave %s: %v", pid, err)
					}
				default:
					f.members.ToggleAudio(ctx, "R", pid, i%2 == 0)
					f.members.LeaveConnection(ctx, conn)
				}
				checkRoom(t, f, "R", maxN)
			}
		}(w)
	}
	wg.Wait()

	ps, err := f.members.Participants("R")
	if err != nil {
		t.Fatalf("room lost under churn: %v", err)
	}
	if len(ps) != 0 {
		t.Fatalf("participants left behind: %+v", ps)
	}
	room, _ := f.rooms.GetRoom("R")
	if room.Name != "Busy" {
		t.Fatalf("room replaced: %+v", room)
	}
}

func TestConcurrentRelayAndDisconnect(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("p%d", i)
		f.members.Join(ctx, "R", domain.ParticipantSpec{ID: id}, "c"+id)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := fmt.Sprintf("p%d", i), fmt.Sprintf("p%d", (i+1)%4)
			for n := 0; n < 100; n++ {
				err := f.chat.RelaySignal(ctx, "R", from, to, domain.SignalCandidate, []byte(`{"candidate":"x"}`))
				if err != nil && !errors.Is(err, domain.ErrUnknownParticipant) && !errors.Is(err, domain.ErrRoomNotFound) {
					t.Errorf("relay: %v", err)
				}
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 4; i++ {
			f.members.LeaveConnection(ctx, fmt.Sprintf("cp%d", i))
			checkRoom(t, f, "R", domain.DefaultMaxParticipants)
		}
	}()
	wg.Wait()
}
