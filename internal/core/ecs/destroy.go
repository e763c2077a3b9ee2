package ecs

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/runtime/internal/core/ident"
)

// destroyRequest names either a node (store == nil) or a single component
// instance already unlinked from its node.
type destroyRequest struct {
	handle Handle
	store  Storage
}

type destroyQueue struct {
	pending []destroyRequest
	seen    map[ident.UniqueID]struct{}
}

func newDestroyQueue() destroyQueue {
	return destroyQueue{
		pending: make([]destroyRequest, 0, 64),
		seen:    make(map[ident.UniqueID]struct{}, 64),
	}
}

func (q *destroyQueue) push(r destroyRequest) {
	if _, dup := q.seen[r.handle.ID]; dup {
		return
	}
	q.seen[r.handle.ID] = struct{}{}
	q.pending = append(q.pending, r)
}

func (q *destroyQueue) contains(id ident.UniqueID) bool {
	_, ok := q.seen[id]
	return ok
}

// take hands out the current batch and resets the queue, so requests made
// by destroy hooks land in the next batch.
func (q *destroyQueue) take() []destroyRequest {
	batch := q.pending
	q.pending = make([]destroyRequest, 0, cap(batch))
	clear(q.seen)
	return batch
}

// SetFrame records the frame state handed to create/destroy hooks.
func (w *World) SetFrame(p Phase, dt time.Duration, number uint64) {
	w.frame.Phase = p
	w.frame.Delta = dt
	w.frame.Number = number
}

// Flush processes every queued destroy request. Each requested node is
// destroyed together with its subtree, leaves first. A subtree deeper than
// the hierarchy's max depth is left untouched and reported in the joined
// error. Requests issued from destroy hooks are processed in the same call.
// It returns the number of nodes destroyed.
func (w *World) Flush() (int, error) {
	if w.flushing {
		return 0, nil
	}
	w.flushing = true
	defer func() { w.flushing = false }()

	destroyed := 0
	var errs []error
	for len(w.queue.pending) > 0 {
		for _, req := range w.queue.take() {
			if req.store != nil {
				req.store.destroy(req.handle, w.hookFrame())
				continue
			}
			if !w.nodes.Valid(req.handle) {
				// Already removed as part of an earlier subtree.
				continue
			}
			n, err := w.destroySubtree(req.handle)
			destroyed += n
			if err != nil {
				w.log.Warn("destroy aborted",
					zap.Stringer("node", req.handle),
					zap.Error(err),
				)
				errs = append(errs, fmt.Errorf("destroy %s: %w", req.handle, err))
			}
		}
	}
	return destroyed, errors.Join(errs...)
}

func (w *World) destroySubtree(root Handle) (int, error) {
	order, err := w.hierarchy.postOrder(root)
	if err != nil {
		return 0, err
	}
	if !w.hierarchy.Parent(root).IsZero() {
		if err := w.hierarchy.detach(root); err != nil {
			return 0, err
		}
	}
	for _, n := range order {
		w.destroyNode(n)
	}
	return len(order), nil
}

// destroyNode frees n's components then n itself. Its children are
// already gone. Hooks run with the attachment marked dying, so they can
// read n's components but not add or remove any.
func (w *World) destroyNode(n Handle) {
	if a, err := w.attachmentFor(n); err == nil {
		a.dying = true
		links := a.links
		for i := len(links) - 1; i >= 0; i-- {
			l := links[i]
			l.store.destroy(l.handle, w.hookFrame())
			for _, ln := range w.listeners {
				if ln.ComponentRemoved != nil {
					ln.ComponentRemoved(n, l.handle, l.typ)
				}
			}
		}
		w.attachments[n.Index] = attachment{}
	}
	if rec := w.nodes.Resolve(n); rec != nil {
		if !rec.Active {
			w.inactive--
		}
		for _, l := range w.listeners {
			if l.NodeDestroyed != nil {
				l.NodeDestroyed(n, rec)
			}
		}
		w.log.Debug("node destroyed", zap.String("name", rec.Name), zap.Stringer("node", n))
	}
	w.hierarchy.remove(n)
	w.nodes.Destroy(n)
}
