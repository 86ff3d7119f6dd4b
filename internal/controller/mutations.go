package controller

import (
	"context"
	"fmt"

	"github.com/danmuck/dronenet/internal/drone"
	"github.com/danmuck/dronenet/internal/network"
	"github.com/danmuck/dronenet/internal/node"
	"github.com/danmuck/dronenet/internal/observability"
	"github.com/danmuck/dronenet/internal/topology"
)

// commit validates next from scratch and adopts it when valid. Callers hold
// c.mu.
func (c *Controller) commit(op string, next topology.Roster) error {
	v := topology.NewValidator(next)
	_, err := v.Run()
	observability.RecordValidation(op, err)
	if err != nil {
		c.log.Warn().Err(err).Str("op", op).Msg("controller.Controller.commit rejected")
		return err
	}
	c.roster = next
	c.validator = v
	c.log.Info().Str("op", op).Msg("controller.Controller.commit")
	return nil
}

func (c *Controller) checkLive(ids ...network.NodeID) error {
	for _, id := range ids {
		if _, ok := c.types[id]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownNode, id)
		}
		if _, ok := c.crashed[id]; ok {
			return fmt.Errorf("%w: %d", ErrCrashed, id)
		}
	}
	return nil
}

func (c *Controller) checkDrone(id network.NodeID) error {
	if err := c.checkLive(id); err != nil {
		return err
	}
	if c.types[id] != network.Drone {
		return fmt.Errorf("%w: %d is a %s", ErrNotDrone, id, c.types[id])
	}
	return nil
}

// AddEdge links a and b when the resulting roster stays valid.
func (c *Controller) AddEdge(ctx context.Context, a, b network.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLive(a, b); err != nil {
		return err
	}
	next, err := c.roster.AddEdge(a, b)
	if err != nil {
		return err
	}
	if err := c.commit("add_edge", next); err != nil {
		return err
	}
	if err := c.deliver(ctx, a, node.AddSender{ID: b, Channel: c.packets[b]}); err != nil {
		return err
	}
	return c.deliver(ctx, b, node.AddSender{ID: a, Channel: c.packets[a]})
}

// RemoveEdge unlinks a and b when the resulting roster stays valid.
func (c *Controller) RemoveEdge(ctx context.Context, a, b network.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLive(a, b); err != nil {
		return err
	}
	next, err := c.roster.RemoveEdge(a, b)
	if err != nil {
		return err
	}
	if err := c.commit("remove_edge", next); err != nil {
		return err
	}
	if err := c.deliver(ctx, a, node.RemoveSender{ID: b}); err != nil {
		return err
	}
	return c.deliver(ctx, b, node.RemoveSender{ID: a})
}

// CrashDrone removes drone id when the network stays valid without it:
// its neighbours drop it first, then the drone drains and stops.
func (c *Controller) CrashDrone(ctx context.Context, id network.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkDrone(id); err != nil {
		return err
	}
	desc, _ := c.roster.Get(id)
	next, err := c.roster.RemoveNode(id)
	if err != nil {
		return err
	}
	if err := c.commit("crash", next); err != nil {
		return err
	}
	for _, n := range desc.Neighbours {
		if _, gone := c.crashed[n]; gone {
			continue
		}
		if err := c.deliver(ctx, n, node.RemoveSender{ID: id}); err != nil {
			return err
		}
	}
	c.crashed[id] = struct{}{}
	return c.deliver(ctx, id, node.Crash{})
}

// SetDropRate changes the drop rate of drone id.
func (c *Controller) SetDropRate(ctx context.Context, id network.NodeID, pdr float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkDrone(id); err != nil {
		return err
	}
	if pdr < 0 || pdr > 1 {
		return fmt.Errorf("%w: %v", drone.ErrInvalidDropRate, pdr)
	}
	next, err := c.roster.SetPDR(id, pdr)
	if err != nil {
		return err
	}
	if err := c.commit("set_pdr", next); err != nil {
		return err
	}
	return c.deliver(ctx, id, node.SetPacketDropRate{PDR: pdr})
}
