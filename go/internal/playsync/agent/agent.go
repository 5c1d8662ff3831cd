package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/playsync/go/internal/playsync/follower"
	"github.com/mcdev12/playsync/go/internal/playsync/leader"
	"github.com/mcdev12/playsync/go/internal/playsync/provider"
)

// Mode selects the role an agent plays in its room
type Mode string

const (
	ModeLeader   Mode = "leader"
	ModeFollower Mode = "follower"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLeader, ModeFollower:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q, want leader or follower", s)
}

// Agent ties a relay client to either a leader or a follower
type Agent struct {
	mode     Mode
	client   *Client
	leader   *leader.Leader
	follower *follower.Follower
}

// NewLeaderAgent publishes the local player's transitions through client
func NewLeaderAgent(client *Client, p provider.Provider, cfg leader.Config) *Agent {
	return &Agent{
		mode:   ModeLeader,
		client: client,
		leader: leader.NewLeader(p, client, cfg),
	}
}

// NewFollowerAgent applies events received through client to the local player
func NewFollowerAgent(client *Client, p provider.Provider, cfg follower.Config) *Agent {
	f := follower.NewFollower(p, cfg)
	client.OnSync(f.HandlePayload)
	return &Agent{
		mode:     ModeFollower,
		client:   client,
		follower: f,
	}
}

func (a *Agent) Mode() Mode { return a.mode }

// Follower returns the follower of a follower agent, nil otherwise
func (a *Agent) Follower() *follower.Follower { return a.follower }

// Run blocks until ctx is done
func (a *Agent) Run(ctx context.Context) error {
	if a.mode == ModeLeader {
		if err := a.leader.Start(ctx); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.client.Run(ctx); err != nil {
			log.Error().Err(err).Msg("relay client stopped")
		}
	}()

	var err error
	switch a.mode {
	case ModeLeader:
		<-ctx.Done()
		a.leader.Wait()
	case ModeFollower:
		err = a.follower.Run(ctx)
	}

	wg.Wait()
	return err
}
