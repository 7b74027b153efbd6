package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"badgerline/internal/chat"
	"badgerline/internal/domain"
	"badgerline/internal/engine"
	"badgerline/internal/repo"
)

func registerDeliveries(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-delivery",
		Method:        http.MethodPost,
		Path:          "/deliveries",
		Summary:       "Create and send a delivery",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateDeliveryRequest `json:"body"`
	}) (*struct {
		Body domain.Delivery `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CreateDelivery(ctx, input.Body.options(actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Delivery `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-deliveries",
		Method:      http.MethodGet,
		Path:        "/deliveries",
		Summary:     "List deliveries the caller takes part in",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Role   string `query:"role" enum:"sender,recipient"`
		Status string `query:"status" doc:"comma-separated statuses"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedDeliveries `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		f := repo.DeliveryFilters{Limit: limit + 1, CursorCreatedAt: cursorCreated, CursorID: cursorID}
		switch input.Role {
		case "sender":
			f.SenderID = actorID
		case "recipient":
			f.RecipientID = actorID
		default:
			f.Participant = actorID
		}
		for _, raw := range strings.Split(input.Status, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			s := domain.Status(raw)
			if !s.Valid() {
				return nil, newAPIError(http.StatusBadRequest, "validation_failed", "unknown status "+raw, map[string]any{"field": "status"})
			}
			f.Statuses = append(f.Statuses, s)
		}
		items, err := e.ListDeliveries(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedDeliveries{}
		if len(items) > limit {
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(repo.FormatTime(last.CreatedAt), last.ID)
		}
		resp.Items = nonNilDeliveries(items)
		return &struct {
			Body paginatedDeliveries `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-delivery",
		Method:      http.MethodGet,
		Path:        "/deliveries/{id}",
		Summary:     "View a delivery; the recipient's first view marks it received",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Delivery `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.ViewDelivery(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Delivery `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-delivery",
		Method:      http.MethodPost,
		Path:        "/deliveries/{id}/status",
		Summary:     "Change a delivery's status",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.Delivery `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.Transition(ctx, engine.TransitionRequest{
			DeliveryID: input.ID,
			Status:     domain.Status(input.Body.Status),
			ActorID:    actorID,
			IfVersion:  input.Body.IfVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Delivery `json:"body"`
		}{Body: d}, nil
	})
}

func registerProgress(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-evidence",
		Method:      http.MethodPost,
		Path:        "/deliveries/{id}/submissions",
		Summary:     "Submit evidence and re-evaluate progress",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body SubmitRequest `json:"body"`
	}) (*struct {
		Body engine.SubmitResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Submit(ctx, engine.SubmitRequest{
			DeliveryID:  input.ID,
			ActorID:     actorID,
			Submissions: input.Body.submissions(),
			Files:       input.Body.files(),
			IfVersion:   input.Body.IfVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SubmitResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-fitness",
		Method:      http.MethodPost,
		Path:        "/deliveries/{id}/fitness-sync",
		Summary:     "Pull a fitness snapshot and re-evaluate progress",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.FitnessResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SyncFitness(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.FitnessResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerChat(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "read-chat",
		Method:      http.MethodGet,
		Path:        "/deliveries/{id}/chat",
		Summary:     "Read a page of the chat timeline, newest page first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Page  int    `query:"page" default:"1" minimum:"1"`
		Limit int    `query:"limit" minimum:"0" maximum:"200"`
	}) (*struct {
		Body engine.ChatPage `json:"body"`
	}, error) {
		if _, err := participantDelivery(ctx, e, input.ID); err != nil {
			return nil, err
		}
		page, err := e.ReadChat(ctx, input.ID, input.Page, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if page.Messages == nil {
			page.Messages = []domain.ChatMessage{}
		}
		return &struct {
			Body engine.ChatPage `json:"body"`
		}{Body: page}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-chat",
		Method:        http.MethodPost,
		Path:          "/deliveries/{id}/chat",
		Summary:       "Post a chat message; reply=true also asks the companion",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string      `path:"id"`
		Reply bool        `query:"reply"`
		Body  ChatRequest `json:"body"`
	}) (*struct {
		Body ChatMessagesResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req := engine.AppendChatRequest{
			DeliveryID: input.ID,
			SenderID:   actorID,
			Content:    input.Body.Content,
			Type:       domain.MessageType(input.Body.Type),
			Metadata:   input.Body.Metadata,
		}
		var msgs []domain.ChatMessage
		if input.Reply {
			out, err := e.Converse(ctx, req)
			if err != nil {
				return nil, handleError(err)
			}
			msgs = out
		} else {
			msg, err := e.AppendChat(ctx, req)
			if err != nil {
				return nil, handleError(err)
			}
			msgs = []domain.ChatMessage{msg}
		}
		return &struct {
			Body ChatMessagesResponse `json:"body"`
		}{Body: ChatMessagesResponse{Messages: msgs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "chat-analytics",
		Method:      http.MethodGet,
		Path:        "/deliveries/{id}/chat/analytics",
		Summary:     "Chat engagement analytics",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body chat.Analytics `json:"body"`
	}, error) {
		if _, err := participantDelivery(ctx, e, input.ID); err != nil {
			return nil, err
		}
		a, err := e.ChatAnalytics(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body chat.Analytics `json:"body"`
		}{Body: a}, nil
	})
}

func registerRewards(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "redeem-reward",
		Method:      http.MethodPost,
		Path:        "/deliveries/{id}/reward/redeem",
		Summary:     "Confirm reward redemption (payments role)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Delivery `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, RolePayments); err != nil {
			return nil, err
		}
		d, err := e.ConfirmRedemption(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Delivery `json:"body"`
		}{Body: d}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/users/me",
		Summary:     "Current user and notification preferences",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.GetUser(ctx, actorID)
		if errors.Is(err, domain.ErrNotFound) {
			u, err = domain.User{ID: actorID, Preferences: domain.DefaultPreferences()}, nil
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-me",
		Method:      http.MethodPatch,
		Path:        "/users/me",
		Summary:     "Update profile and notification preferences",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body UpdateMeRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Name != nil || input.Body.Email != nil {
			cur, err := e.GetUser(ctx, actorID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return nil, handleError(err)
			}
			cur.ID = actorID
			if input.Body.Name != nil {
				cur.Name = *input.Body.Name
			}
			if input.Body.Email != nil {
				cur.Email = *input.Body.Email
			}
			if _, err := e.UpsertUser(ctx, cur); err != nil {
				return nil, handleError(err)
			}
		}
		var updates []domain.PreferenceUpdate
		if input.Body.Preferences != nil {
			updates = input.Body.Preferences.updates()
		}
		u, err := e.UpdatePreferences(ctx, actorID, updates...)
		if errors.Is(err, domain.ErrNotFound) {
			u, err = domain.User{ID: actorID, Preferences: domain.DefaultPreferences()}, nil
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})
}
