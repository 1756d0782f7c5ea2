package replay

import (
	"github.com/dialogforge/dialogforge/pkg/model"
)

// validateExtraction runs the per-round checks on a round's labels.
func validateExtraction(round *model.Round, defs *model.AppDefinition) []*model.ReplayError {
	var errs []*model.ReplayError

	for _, tv := range round.ExtractorStep.TextVariations {
		counts := make(map[string]int)
		for _, label := range tv.LabeledEntities {
			entity, ok := model.EntityByID(defs.Entities, label.EntityID)
			if !ok {
				errs = append(errs, &model.ReplayError{
					Type:  model.ReplayErrorEntityUndefined,
					Value: label.EntityID,
				})
				continue
			}
			if entity.Type != model.EntityTypeCustom && entity.Type != model.EntityTypePretrained {
				continue
			}
			counts[label.EntityID]++
			if !entity.IsMultivalue && counts[label.EntityID] == 2 {
				errs = append(errs, &model.ReplayError{
					Type:  model.ReplayErrorEntityUnexpectedMultivalue,
					Value: entity.Name,
				})
			}
		}
	}
	return errs
}

// validateScorerStep runs the per-step checks. prevTerminal reports whether
// the preceding step in the same round fired a wait action.
func validateScorerStep(step *model.ScorerStep, stepIndex int, prevTerminal bool, defs *model.AppDefinition) []*model.ReplayError {
	var errs []*model.ReplayError

	for _, f := range step.Input.FilledEntities {
		if _, ok := model.EntityByID(defs.Entities, f.EntityID); !ok {
			errs = append(errs, &model.ReplayError{
				Type:  model.ReplayErrorEntityUndefined,
				Value: f.EntityID,
			})
		}
	}

	if step.IsStub() {
		errs = append(errs, &model.ReplayError{
			Type:  model.ReplayErrorActionStub,
			Value: step.ImportText,
		})
		return errs
	}

	if step.LabelAction == "" {
		return errs
	}

	if stepIndex > 0 && prevTerminal {
		errs = append(errs, &model.ReplayError{Type: model.ReplayErrorActionAfterWait})
	}

	action, ok := model.ActionByID(defs.Actions, step.LabelAction)
	if !ok {
		errs = append(errs, &model.ReplayError{
			Type:  model.ReplayErrorActionUndefined,
			Value: step.LabelAction,
		})
		return errs
	}

	if !model.IsActionAvailable(action, step.Input.FilledEntities) {
		errs = append(errs, &model.ReplayError{
			Type:  model.ReplayErrorActionUnavailable,
			Value: action.ID,
		})
	}

	present := model.FilledEntityMap(step.Input.FilledEntities)
	for _, id := range action.RequiredEntities {
		f, found := present[id]
		if !found || !f.HasValue() {
			name := id
			if e, ok := model.EntityByID(defs.Entities, id); ok {
				name = e.Name
			}
			errs = append(errs, &model.ReplayError{
				Type:  model.ReplayErrorEntityEmpty,
				Value: name,
			})
		}
	}

	return errs
}
