package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"lararun/internal/apperr"
	"lararun/internal/auth"
	"lararun/internal/coach"
	"lararun/internal/store"
)

var (
	objectiveTypes = []string{"5km", "10km", "21.1km", "42.2km", "speed"}
	weekdays       = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}
)

// SetObjective validates o and makes it the user's active objective.
func (a *Application) SetObjective(ctx context.Context, o *store.Objective) error {
	if !slices.Contains(objectiveTypes, o.Type) {
		return apperr.Permanent(apperr.CodeInvalidPayload,
			fmt.Sprintf("objective type %q, want one of %s", o.Type, strings.Join(objectiveTypes, ", ")), nil)
	}
	if o.TargetDate.IsZero() {
		return apperr.Permanent(apperr.CodeInvalidPayload, "objective needs a target date", nil)
	}
	for i, d := range o.RunningDays {
		d = strings.ToLower(strings.TrimSpace(d))
		if !slices.Contains(weekdays, d) {
			return apperr.Permanent(apperr.CodeInvalidPayload, fmt.Sprintf("unknown running day %q", d), nil)
		}
		o.RunningDays[i] = d
	}
	if _, err := a.Store.GetUser(ctx, o.UserID); err != nil {
		return err
	}
	return a.Store.CreateObjective(ctx, o)
}

// CloseObjective ends the user's active objective as completed or abandoned.
// Activity changes stop refreshing the plan until a new objective is set.
func (a *Application) CloseObjective(ctx context.Context, userID int64, status store.ObjectiveStatus) (*store.Objective, error) {
	if status != store.ObjectiveCompleted && status != store.ObjectiveAbandoned {
		return nil, apperr.Permanent(apperr.CodeInvalidPayload,
			fmt.Sprintf("objective status %q, want completed or abandoned", status), nil)
	}
	o, err := a.Store.CurrentObjective(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := a.Store.SetObjectiveStatus(ctx, o.ID, status); err != nil {
		return nil, err
	}
	o.Status = status
	a.log.Info("objective closed", "user_id", userID, "objective_id", o.ID, "status", status)
	return o, nil
}

// SaveFeedback records how the user's workout on date went.
func (a *Application) SaveFeedback(ctx context.Context, date string, f *store.WorkoutFeedback) error {
	rec, err := a.Store.GetRecommendationByDate(ctx, f.UserID, date)
	if err != nil {
		return err
	}
	f.RecommendationID = rec.ID
	if err := a.Store.SaveFeedback(ctx, f); err != nil {
		if errors.Is(err, store.ErrInvalidFeedback) {
			return apperr.Permanent(apperr.CodeInvalidPayload, err.Error(), err)
		}
		return err
	}
	return nil
}

// Week returns the user's plan for today through today+6.
func (a *Application) Week(ctx context.Context, userID int64) ([]store.DailyRecommendation, error) {
	today := a.clock.Today()
	return a.Store.ListRecommendationsInRange(ctx, userID,
		today.Format(store.DateLayout), today.AddDate(0, 0, coach.PlanDays-1).Format(store.DateLayout))
}

// ConnectStrava links a user's Strava account through the browser
// authorization flow and schedules their first import.
func (a *Application) ConnectStrava(ctx context.Context, userID int64, port int, out io.Writer) error {
	user, err := a.Store.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	oauthCfg := auth.NewOAuthConfig(auth.Config{
		ClientID:     a.cfg.Strava.ClientID,
		ClientSecret: a.cfg.Strava.ClientSecret,
	})
	grant, err := auth.Connect(ctx, oauthCfg, port, out)
	if err != nil {
		return err
	}
	if err := a.Store.LinkStrava(ctx, user.ID, grant.AthleteID, grant.Token.AccessToken, grant.Token.RefreshToken, grant.Token.Expiry); err != nil {
		return err
	}
	a.log.Info("strava connected", "user_id", user.ID, "athlete_id", grant.AthleteID)

	_, err = a.EnqueueImport(ctx, &user.ID)
	return err
}
