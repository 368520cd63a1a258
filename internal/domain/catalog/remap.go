package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/pethealth/pethealth/internal/platform/apperr"
)

// Remap repoints every alias, user mapping and test result from oldID to
// newID in one transaction. With DeleteAfterRemap an Unmapped source item is
// deleted once nothing references it. On failure nothing is committed and
// every failed step is reported.
func (s *Service) Remap(ctx context.Context, oldID, newID uuid.UUID, opts RemapOptions) (*RemapResult, error) {
	const op = "remap"
	if oldID == newID {
		return nil, apperr.Validation(op, "source and target item are the same")
	}

	res := &RemapResult{OldItemID: oldID, NewItemID: newID}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.remapTx(ctx, res, opts)
	})
	if err != nil {
		s.log.Error().Err(err).
			Str("old_item_id", oldID.String()).
			Str("new_item_id", newID.String()).
			Msg("remap failed")
		return nil, err
	}
	s.invalidateMasterAliases(ctx)

	s.log.Info().
		Str("old_item_id", oldID.String()).
		Str("new_item_id", newID.String()).
		Int("results_moved", res.ResultsMoved).
		Int("aliases_moved", res.AliasesMoved).
		Int("mappings_moved", res.MappingsMoved).
		Bool("old_deleted", res.OldDeleted).
		Msg("remapped item")
	return res, nil
}

func (s *Service) remapTx(ctx context.Context, res *RemapResult, opts RemapOptions) error {
	const op = "remap"
	old, err := s.items.GetByID(ctx, res.OldItemID)
	if err != nil {
		return apperr.Wrap(op+": source item", err)
	}
	target, err := s.items.GetByID(ctx, res.NewItemID)
	if err != nil {
		return apperr.Wrap(op+": target item", err)
	}

	// All three moves are attempted so the caller sees every failure.
	var errs []error
	if n, err := s.aliases.MoveToItem(ctx, TierMaster, old.ID, target.ID, target.Name); err != nil {
		errs = append(errs, apperr.Wrap(op+": move aliases", err))
	} else {
		res.AliasesMoved = n
	}
	if n, err := s.aliases.MoveToItem(ctx, TierUser, old.ID, target.ID, target.Name); err != nil {
		errs = append(errs, apperr.Wrap(op+": move mappings", err))
	} else {
		res.MappingsMoved = n
	}
	if n, err := s.results.MoveToItem(ctx, old.ID, target.ID); err != nil {
		errs = append(errs, apperr.Wrap(op+": move results", err))
	} else {
		res.ResultsMoved = n
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if opts.AddOldNameAlias {
		added, err := s.addAliasIfMissing(ctx, old.Name, target)
		if err != nil {
			return apperr.Wrap(op+": add old name alias", err)
		}
		res.AliasAdded = added
	}

	if opts.DeleteAfterRemap && old.IsUnmapped() {
		remaining, err := s.results.CountByItem(ctx, old.ID)
		if err != nil {
			return apperr.Wrap(op+": count results", err)
		}
		if remaining == 0 {
			if _, err := s.aliases.DeleteByItem(ctx, old.ID); err != nil {
				return apperr.Wrap(op+": delete aliases", err)
			}
			if err := s.items.Delete(ctx, old.ID); err != nil {
				return apperr.Wrap(op+": delete source item", err)
			}
			res.OldDeleted = true
		}
	}
	return nil
}

func (s *Service) addAliasIfMissing(ctx context.Context, alias string, target *StandardItem) (bool, error) {
	a := &Alias{Alias: alias, CanonicalName: target.Name, StandardItemID: target.ID}
	return s.aliases.InsertMasterIfAbsent(ctx, a)
}

// actionOutcome is what one cleanup action did.
type actionOutcome struct {
	deleted    bool
	merged     bool
	aliasAdded bool
	results    int
	aliases    int
	mappings   int
}

// errDryRun discards a dry-run batch once its summary is known.
var errDryRun = errors.New("dry run")

// CleanupUnmapped applies admin decisions about unmapped items. Each action
// is isolated: a failure is recorded in the summary and the batch moves on.
// A dry run executes the batch in a transaction that is always rolled back,
// so later actions see the effects of earlier ones exactly as a live run.
func (s *Service) CleanupUnmapped(ctx context.Context, actions []CleanupAction, dryRun bool) *CleanupSummary {
	sum := &CleanupSummary{DryRun: dryRun, Errors: []ActionError{}}

	if dryRun {
		err := s.tx.InTx(ctx, func(ctx context.Context) error {
			s.runCleanup(ctx, sum, actions)
			return errDryRun
		})
		if err != nil && !errors.Is(err, errDryRun) {
			// The batch never ran.
			*sum = CleanupSummary{DryRun: true, Processed: len(actions), Errors: []ActionError{}}
			for _, a := range actions {
				sum.Errors = append(sum.Errors, newActionError(a, apperr.Wrap("cleanup", err)))
			}
		}
	} else {
		s.runCleanup(ctx, sum, actions)
	}
	sum.Success = len(sum.Errors) == 0

	if !dryRun && (sum.Deleted > 0 || sum.Merged > 0) {
		s.invalidateMasterAliases(ctx)
	}
	s.log.Info().
		Bool("dry_run", dryRun).
		Int("processed", sum.Processed).
		Int("deleted", sum.Deleted).
		Int("merged", sum.Merged).
		Int("errors", len(sum.Errors)).
		Msg("unmapped cleanup")
	return sum
}

func (s *Service) runCleanup(ctx context.Context, sum *CleanupSummary, actions []CleanupAction) {
	for _, a := range actions {
		sum.Processed++
		var (
			out actionOutcome
			err error
		)
		if err = validateAction(a); err == nil {
			out, err = s.applyAction(ctx, a)
		}
		if err != nil {
			sum.Errors = append(sum.Errors, newActionError(a, err))
			continue
		}

		if out.deleted {
			sum.Deleted++
		}
		if out.merged {
			sum.Merged++
		}
		if out.aliasAdded {
			sum.AliasesAdded++
		}
		sum.ResultsMoved += out.results
		sum.AliasesMoved += out.aliases
		sum.MappingsMoved += out.mappings
	}
}

func validateAction(a CleanupAction) error {
	const op = "cleanup"
	switch a.Action {
	case ActionDelete:
		return nil
	case ActionMerge:
		if a.TargetItemID == nil {
			return apperr.Validation(op, "merge requires target_item_id")
		}
		if *a.TargetItemID == a.ItemID {
			return apperr.Validation(op, "cannot merge an item into itself")
		}
		return nil
	}
	return apperr.Validation(op, "unknown action %q", a.Action)
}

func addAliasRequested(a CleanupAction) bool {
	return a.AddAlias == nil || *a.AddAlias
}

func (s *Service) applyAction(ctx context.Context, a CleanupAction) (actionOutcome, error) {
	if a.Action == ActionDelete {
		err := s.tx.InTx(ctx, func(ctx context.Context) error {
			if err := s.checkDeletable(ctx, a.ItemID); err != nil {
				return err
			}
			if _, err := s.aliases.DeleteByItem(ctx, a.ItemID); err != nil {
				return apperr.Wrap("cleanup delete", err)
			}
			return apperr.Wrap("cleanup delete", s.items.Delete(ctx, a.ItemID))
		})
		if err != nil {
			return actionOutcome{}, err
		}
		return actionOutcome{deleted: true}, nil
	}

	res := &RemapResult{OldItemID: a.ItemID, NewItemID: *a.TargetItemID}
	opts := RemapOptions{DeleteAfterRemap: true, AddOldNameAlias: addAliasRequested(a)}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.remapTx(ctx, res, opts)
	})
	if err != nil {
		return actionOutcome{}, err
	}
	return actionOutcome{
		merged:     true,
		aliasAdded: res.AliasAdded,
		results:    res.ResultsMoved,
		aliases:    res.AliasesMoved,
		mappings:   res.MappingsMoved,
	}, nil
}

// checkDeletable refuses items that test results still point at.
func (s *Service) checkDeletable(ctx context.Context, id uuid.UUID) error {
	const op = "cleanup delete"
	if _, err := s.items.GetByID(ctx, id); err != nil {
		return apperr.Wrap(op, err)
	}
	n, err := s.results.CountByItem(ctx, id)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if n > 0 {
		return apperr.Conflict(op, n, "item has %d test results; merge it instead", n)
	}
	return nil
}

func newActionError(a CleanupAction, err error) ActionError {
	ae := ActionError{ItemID: a.ItemID, Action: a.Action, Error: err.Error()}
	var typed *apperr.Error
	if errors.As(err, &typed) && typed.Kind == apperr.KindConflict {
		ae.Count = typed.Count
	}
	return ae
}
