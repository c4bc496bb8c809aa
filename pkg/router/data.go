package router

import (
	"errors"

	"github.com/lightforgemedia/go-notebooksync/pkg/model"
	"github.com/lightforgemedia/go-notebooksync/pkg/protocol"
	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
)

func (r *Router) handlePatchProject(env *wire.Envelope) ([]protocol.Event, Outcome, error) {
	var p wire.ProjectPatch
	if err := env.DecodePayload(&p); err != nil {
		return nil, OutcomeMalformed, err
	}
	id, ok := wire.ID(p.ProjectID)
	if !ok {
		return nil, OutcomeDropped, missing("project_id")
	}
	if r.c.Notebooks == nil {
		return nil, OutcomeDropped, dropped("notebook %d", id)
	}
	cur, ok := r.c.Notebooks.Get(id)
	if !ok {
		return nil, OutcomeDropped, dropped("notebook %d", id)
	}
	if _, err := model.ApplyProjectPatch(cur, p); err != nil {
		return nil, OutcomeDropped, staleOr(err)
	}
	applied := r.c.Notebooks.Update(id, func(n model.Notebook) model.Notebook {
		next, err := model.ApplyProjectPatch(n, p)
		if err != nil {
			return n
		}
		return next
	})
	if !applied {
		return nil, OutcomeDropped, dropped("notebook %d", id)
	}
	return nil, OutcomeApplied, nil
}

func (r *Router) handlePatchBatchTable(env *wire.Envelope) ([]protocol.Event, Outcome, error) {
	var p wire.BatchTablePatch
	if err := env.DecodePayload(&p); err != nil {
		return nil, OutcomeMalformed, err
	}
	id, ok := wire.ID(p.BatchTableID)
	if !ok {
		return nil, OutcomeDropped, missing("batch_table_id")
	}
	if r.c.BatchTables == nil {
		return nil, OutcomeDropped, dropped("batch table %d", id)
	}
	cur, ok := r.c.BatchTables.Get(id)
	if !ok {
		return nil, OutcomeDropped, dropped("batch table %d", id)
	}
	if _, err := model.ApplyBatchTablePatch(cur, p); err != nil {
		return nil, OutcomeDropped, staleOr(err)
	}
	applied := r.c.BatchTables.Update(id, func(t model.BatchTable) model.BatchTable {
		next, err := model.ApplyBatchTablePatch(t, p)
		if err != nil {
			return t
		}
		return next
	})
	if !applied {
		return nil, OutcomeDropped, dropped("batch table %d", id)
	}
	return nil, OutcomeApplied, nil
}

// conversation resolves the cached conversation both ids point at.
func (r *Router) conversation(projectID, conversationID *int64) (int64, error) {
	pid, ok := wire.ID(projectID)
	if !ok {
		return 0, missing("project_id")
	}
	cid, ok := wire.ID(conversationID)
	if !ok {
		return 0, missing("bot_conversation_id")
	}
	if r.c.Conversations == nil {
		return 0, dropped("conversation %d", cid)
	}
	conv, ok := r.c.Conversations.Get(cid)
	if !ok {
		return 0, dropped("conversation %d", cid)
	}
	if conv.ProjectID != 0 && conv.ProjectID != pid {
		return 0, dropped("conversation %d belongs to project %d, not %d", cid, conv.ProjectID, pid)
	}
	return cid, nil
}

func (r *Router) handlePatchConversation(env *wire.Envelope) ([]protocol.Event, Outcome, error) {
	var p wire.ConversationPatch
	if err := env.DecodePayload(&p); err != nil {
		return nil, OutcomeMalformed, err
	}
	cid, err := r.conversation(p.ProjectID, p.BotConversationID)
	if err != nil {
		return nil, OutcomeDropped, err
	}
	if !r.c.Conversations.Update(cid, func(c model.BotConversation) model.BotConversation {
		return model.ApplyConversationPatch(c, p)
	}) {
		return nil, OutcomeDropped, dropped("conversation %d", cid)
	}
	return nil, OutcomeApplied, nil
}

func (r *Router) handleStatusMessage(env *wire.Envelope) ([]protocol.Event, Outcome, error) {
	var p wire.StatusMessage
	if err := env.DecodePayload(&p); err != nil {
		return nil, OutcomeMalformed, err
	}
	cid, err := r.conversation(p.ProjectID, p.BotConversationID)
	if err != nil {
		return nil, OutcomeDropped, err
	}
	if !r.c.Conversations.Update(cid, func(c model.BotConversation) model.BotConversation {
		return model.WithStatus(c, p.Status, p.Text)
	}) {
		return nil, OutcomeDropped, dropped("conversation %d", cid)
	}
	return nil, OutcomeApplied, nil
}

func (r *Router) handleRelevantQueries(env *wire.Envelope) ([]protocol.Event, Outcome, error) {
	var p wire.RelevantQueries
	if err := env.DecodePayload(&p); err != nil {
		return nil, OutcomeMalformed, err
	}
	id, ok := wire.ID(p.ProjectID)
	if !ok {
		return nil, OutcomeDropped, missing("project_id")
	}
	if p.BlockID == "" {
		return nil, OutcomeDropped, missing("block_id")
	}
	if r.c.Notebooks == nil {
		return nil, OutcomeDropped, dropped("notebook %d", id)
	}
	cur, ok := r.c.Notebooks.Get(id)
	if !ok {
		return nil, OutcomeDropped, dropped("notebook %d", id)
	}
	if _, ok := cur.Block(p.BlockID); !ok {
		return nil, OutcomeDropped, dropped("block %s of notebook %d", p.BlockID, id)
	}
	found := false
	r.c.Notebooks.Update(id, func(n model.Notebook) model.Notebook {
		next, ok := model.AttachRelevantQueries(n, p.BlockID, p.Queries)
		found = ok
		return next
	})
	if !found {
		return nil, OutcomeDropped, dropped("block %s of notebook %d", p.BlockID, id)
	}
	return nil, OutcomeApplied, nil
}

func (r *Router) handleSQLAutocomplete(env *wire.Envelope) ([]protocol.Event, Outcome, error) {
	var p wire.SQLAutocompleteResponse
	if err := env.DecodePayload(&p); err != nil {
		return nil, OutcomeMalformed, err
	}
	if p.SurfaceID == "" {
		return nil, OutcomeDropped, missing("surface_id")
	}
	if r.c.Surfaces == nil || !r.c.Surfaces.Deliver(p.SurfaceID, p.Suggestions) {
		return nil, OutcomeDropped, dropped("surface %s", p.SurfaceID)
	}
	return nil, OutcomeApplied, nil
}

func staleOr(err error) error {
	if errors.Is(err, model.ErrStalePatch) {
		return dropped("%v", err)
	}
	return err
}
