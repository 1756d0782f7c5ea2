package replay

import (
	"context"

	"github.com/rs/xid"

	"github.com/dialogforge/dialogforge/pkg/interpret"
	"github.com/dialogforge/dialogforge/pkg/model"
)

// Activity sources.
const (
	FromUser = "user"
	FromBot  = "bot"
)

// Activity is one transcript entry re-materialized from a stored dialog.
type Activity struct {
	ID         string             `json:"id"`
	From       string             `json:"from"`
	Text       string             `json:"text"`
	RoundIndex int                `json:"roundIndex"`
	// ScoreIndex is -1 for user activities.
	ScoreIndex  int                `json:"scoreIndex"`
	ReplayError *model.ReplayError `json:"replayError,omitempty"`
}

// ActivitiesResult is the output of GetActivities.
type ActivitiesResult struct {
	Activities []Activity `json:"activities"`
	// ReplayErrors is the de-duplicated list of every inconsistency found.
	ReplayErrors []*model.ReplayError `json:"replayErrors"`
	// DialogMode is the state implied by the last action: whether the
	// caller should prompt for user input or run the scorer again.
	DialogMode model.DialogMode `json:"dialogMode"`
}

// GetActivities walks the dialog's rounds without mutating stored logic
// results, producing the flat transcript plus validation errors. Side
// effects are never repeated: API steps replay in render-only mode from
// their captured logic results.
func (e *Engine) GetActivities(ctx context.Context, dialog *model.TrainDialog, defs *model.AppDefinition) (*ActivitiesResult, error) {
	working := dialog.Clone()
	result := &ActivitiesResult{DialogMode: model.DialogModeWait}

	mem, err := e.seedMemory(ctx, working, defs)
	if err != nil {
		return nil, err
	}

	prevRoundTerminal := true
	lastMode := model.DialogModeWait

	for ri := range working.Rounds {
		round := &working.Rounds[ri]

		roundErrs := validateExtraction(round, defs)

		if ri > 0 && !prevRoundTerminal {
			roundErrs = append(roundErrs, &model.ReplayError{Type: model.ReplayErrorInputAfterNonWait})
		}

		isFinalRound := ri == len(working.Rounds)-1
		if !isFinalRound && (len(round.ScorerSteps) == 0 || round.ScorerSteps[0].LabelAction == "") {
			roundErrs = append(roundErrs, &model.ReplayError{Type: model.ReplayErrorTwoUserInputs})
		}

		userText := ""
		if len(round.ExtractorStep.TextVariations) > 0 {
			userText = round.ExtractorStep.TextVariations[0].Text
		}
		userActivity := Activity{
			ID:         xid.New().String(),
			From:       FromUser,
			Text:       userText,
			RoundIndex: ri,
			ScoreIndex: -1,
		}
		if len(roundErrs) > 0 {
			userActivity.ReplayError = roundErrs[0]
		}
		result.Activities = append(result.Activities, userActivity)
		result.ReplayErrors = append(result.ReplayErrors, roundErrs...)

		if detectErr := e.processExtraction(ctx, round, mem, defs); detectErr != nil {
			apiErr := &model.ReplayError{
				Type:   model.ReplayErrorAPIException,
				Detail: detectErr.Error(),
			}
			result.ReplayErrors = append(result.ReplayErrors, apiErr)
		}

		lastMode = model.DialogModeScorer
		prevRoundTerminal = false
		prevStepTerminal := false

		for si := range round.ScorerSteps {
			step := &round.ScorerSteps[si]

			// Validation uses the step's recorded input when present;
			// otherwise the recomputed memory snapshot stands in.
			if len(step.Input.FilledEntities) == 0 {
				snapshot, err := mem.FilledEntities(ctx)
				if err != nil {
					return nil, err
				}
				step.Input.FilledEntities = snapshot
			}

			stepErrs := validateScorerStep(step, si, prevStepTerminal, defs)
			result.ReplayErrors = append(result.ReplayErrors, stepErrs...)

			if step.LabelAction == "" {
				lastMode = model.DialogModeScorer
				continue
			}

			action, actionKnown := model.ActionByID(defs.Actions, step.LabelAction)
			if !actionKnown {
				activity := Activity{
					ID:         xid.New().String(),
					From:       FromBot,
					Text:       (&model.ReplayError{Type: model.ReplayErrorActionUndefined, Value: step.LabelAction}).Message(),
					RoundIndex: ri,
					ScoreIndex: si,
				}
				if len(stepErrs) > 0 {
					activity.ReplayError = stepErrs[0]
				}
				result.Activities = append(result.Activities, activity)
				continue
			}

			in := interpret.Input{StoredLogicResult: step.LogicResult}
			if action.Type == model.ActionTypeAPI && action.API.IsPlaceholder && step.LogicResult != nil {
				in.PlaceholderFilled = step.LogicResult.ChangedFilledEntities
			}

			activity := Activity{
				ID:         xid.New().String(),
				From:       FromBot,
				RoundIndex: ri,
				ScoreIndex: si,
			}

			actResult, err := e.interp.TakeAction(ctx, action, mem, interpret.RenderOnly, in)
			if err != nil {
				// Hard action errors degrade to a diagnostic activity.
				activity.Text = err.Error()
				hardErr := &model.ReplayError{
					Type:   model.ReplayErrorSetEntityException,
					Detail: err.Error(),
				}
				if action.Type != model.ActionTypeSetEntity {
					hardErr = &model.ReplayError{
						Type:   model.ReplayErrorAPIException,
						Value:  step.LabelAction,
						Detail: err.Error(),
					}
				}
				result.ReplayErrors = append(result.ReplayErrors, hardErr)
				activity.ReplayError = hardErr
			} else {
				activity.Text = actResult.Response
				if actResult.ReplayError != nil {
					result.ReplayErrors = append(result.ReplayErrors, actResult.ReplayError)
					activity.ReplayError = actResult.ReplayError
				}
			}
			if activity.ReplayError == nil && len(stepErrs) > 0 {
				activity.ReplayError = stepErrs[0]
			}
			result.Activities = append(result.Activities, activity)

			switch {
			case action.Type == model.ActionTypeEndSession:
				lastMode = model.DialogModeEndSession
				prevStepTerminal = true
				prevRoundTerminal = true
			case action.IsTerminal:
				lastMode = model.DialogModeWait
				prevStepTerminal = true
				prevRoundTerminal = true
			default:
				lastMode = model.DialogModeScorer
				prevStepTerminal = false
				prevRoundTerminal = false
			}
		}
	}

	result.ReplayErrors = model.DedupReplayErrors(result.ReplayErrors)
	result.DialogMode = lastMode
	return result, nil
}
