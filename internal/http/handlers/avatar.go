package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/surajit20072003/heygemd/internal/avatar"
	"github.com/surajit20072003/heygemd/internal/models"
)

// AvatarHandler handles avatar catalog endpoints.
type AvatarHandler struct {
	service *avatar.Service
}

// NewAvatarHandler creates an avatar handler.
func NewAvatarHandler(service *avatar.Service) *AvatarHandler {
	return &AvatarHandler{service: service}
}

// Register registers the avatar routes with the API.
func (h *AvatarHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createAvatar",
		Method:        "POST",
		Path:          "/api/v1/avatars",
		Summary:       "Create avatar",
		Description:   "Registers a reusable reference video (and optional voice audio) under a name",
		Tags:          []string{"Avatars"},
		DefaultStatus: 201,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listAvatars",
		Method:      "GET",
		Path:        "/api/v1/avatars",
		Summary:     "List avatars",
		Description: "Returns all avatars ordered by name",
		Tags:        []string{"Avatars"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getAvatar",
		Method:      "GET",
		Path:        "/api/v1/avatars/{id}",
		Summary:     "Get avatar",
		Description: "Returns an avatar by ID",
		Tags:        []string{"Avatars"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "deleteAvatar",
		Method:      "DELETE",
		Path:        "/api/v1/avatars/{id}",
		Summary:     "Delete avatar",
		Description: "Removes the catalog entry; stored media files are left in place",
		Tags:        []string{"Avatars"},
	}, h.Delete)
}

// CreateAvatarRequest is the avatar creation body.
type CreateAvatarRequest struct {
	Name      string `json:"name" doc:"Unique avatar name"`
	VideoPath string `json:"video_path" doc:"Host path of the reference face video"`
	AudioPath string `json:"audio_path,omitempty" doc:"Host path of the voice reference audio"`
	Notes     string `json:"notes,omitempty"`
}

// CreateAvatarInput is the input for creating an avatar.
type CreateAvatarInput struct {
	Body CreateAvatarRequest
}

// CreateAvatarOutput is the output for creating an avatar.
type CreateAvatarOutput struct {
	Body AvatarResponse
}

// Create registers a new avatar.
func (h *AvatarHandler) Create(ctx context.Context, input *CreateAvatarInput) (*CreateAvatarOutput, error) {
	av := &models.Avatar{
		Name:      input.Body.Name,
		VideoPath: input.Body.VideoPath,
		AudioPath: input.Body.AudioPath,
		Notes:     input.Body.Notes,
	}

	if err := h.service.Create(ctx, av); err != nil {
		switch {
		case errors.Is(err, avatar.ErrNameTaken):
			return nil, huma.Error409Conflict(err.Error())
		case errors.Is(err, avatar.ErrMediaMissing),
			errors.Is(err, models.ErrNameRequired),
			errors.Is(err, models.ErrVideoPathRequired):
			return nil, huma.Error400BadRequest(err.Error())
		default:
			return nil, huma.Error500InternalServerError("failed to create avatar", err)
		}
	}

	return &CreateAvatarOutput{Body: AvatarFromModel(av)}, nil
}

// ListAvatarsInput is the input for listing avatars.
type ListAvatarsInput struct{}

// ListAvatarsOutput is the output for listing avatars.
type ListAvatarsOutput struct {
	Body struct {
		Avatars []AvatarResponse `json:"avatars"`
	}
}

// List returns all avatars.
func (h *AvatarHandler) List(ctx context.Context, input *ListAvatarsInput) (*ListAvatarsOutput, error) {
	avatars, err := h.service.List(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list avatars", err)
	}

	resp := &ListAvatarsOutput{}
	resp.Body.Avatars = make([]AvatarResponse, 0, len(avatars))
	for _, a := range avatars {
		resp.Body.Avatars = append(resp.Body.Avatars, AvatarFromModel(a))
	}
	return resp, nil
}

// GetAvatarInput is the input for getting an avatar.
type GetAvatarInput struct {
	ID string `path:"id" doc:"Avatar ID (ULID)"`
}

// GetAvatarOutput is the output for getting an avatar.
type GetAvatarOutput struct {
	Body AvatarResponse
}

// GetByID returns an avatar by ID.
func (h *AvatarHandler) GetByID(ctx context.Context, input *GetAvatarInput) (*GetAvatarOutput, error) {
	av, err := h.service.Resolve(ctx, input.ID)
	if err != nil {
		switch {
		case errors.Is(err, avatar.ErrInvalidID):
			return nil, huma.Error400BadRequest(err.Error())
		case errors.Is(err, models.ErrAvatarNotFound):
			return nil, huma.Error404NotFound(fmt.Sprintf("avatar %s not found", input.ID))
		default:
			return nil, huma.Error500InternalServerError("failed to get avatar", err)
		}
	}

	return &GetAvatarOutput{Body: AvatarFromModel(av)}, nil
}

// DeleteAvatarInput is the input for deleting an avatar.
type DeleteAvatarInput struct {
	ID string `path:"id" doc:"Avatar ID (ULID)"`
}

// DeleteAvatarOutput is the output for deleting an avatar.
type DeleteAvatarOutput struct{}

// Delete removes an avatar catalog entry.
func (h *AvatarHandler) Delete(ctx context.Context, input *DeleteAvatarInput) (*DeleteAvatarOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid avatar id", err)
	}

	if err := h.service.Delete(ctx, id); err != nil {
		if errors.Is(err, models.ErrAvatarNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("avatar %s not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to delete avatar", err)
	}

	return &DeleteAvatarOutput{}, nil
}
