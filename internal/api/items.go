package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/erazemk/najdeno/internal/cache"
	"github.com/erazemk/najdeno/internal/events"
	"github.com/erazemk/najdeno/internal/imaging"
	"github.com/erazemk/najdeno/internal/media"
	"github.com/erazemk/najdeno/internal/model"
	"github.com/erazemk/najdeno/internal/store"
	"github.com/erazemk/najdeno/internal/verify"
)

// ItemsHandler handles found item endpoints.
type ItemsHandler struct {
	DB     *sql.DB
	Cache  *cache.Items
	Media  *media.Library
	Events events.Publisher
}

type createItemRequest struct {
	Type            model.ItemType      `json:"type"`
	Name            string              `json:"name"`
	Description     string              `json:"description"`
	FoundDate       string              `json:"found_date"`
	Location        string              `json:"location"`
	ContactInfo     string              `json:"contact_info"`
	ExtractedInfo   model.ExtractedInfo `json:"extracted_info"`
	PhoneNumber     string              `json:"phone_number"`
	PickupLocations []string            `json:"suggested_pickup_locations"`
}

// publicItem is what anyone may see about an item. Sensitive values are
// masked and nothing that helps to collect the item is included.
type publicItem struct {
	ID            string              `json:"id"`
	Type          model.ItemType      `json:"type"`
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	FoundDate     string              `json:"found_date,omitempty"`
	Location      string              `json:"location,omitempty"`
	ExtractedInfo model.ExtractedInfo `json:"extracted_info,omitempty"`
	HasImage      bool                `json:"has_image"`
	AcceptsTips   bool                `json:"accepts_tips"`
	Status        string              `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
}

func newPublicItem(item *model.Item) publicItem {
	return publicItem{
		ID:            item.ID,
		Type:          item.Type,
		Name:          item.Name,
		Description:   item.Description,
		FoundDate:     item.FoundDate,
		Location:      item.Location,
		ExtractedInfo: verify.MaskInfo(item.ExtractedInfo),
		HasImage:      item.HasImage(),
		AcceptsTips:   item.TipsFinder(),
		Status:        item.Status,
		CreatedAt:     item.CreatedAt,
	}
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// List handles GET /api/items.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := cache.Query{
		Text:   r.URL.Query().Get("q"),
		Status: r.URL.Query().Get("status"),
	}

	items, err := h.Cache.List(r.Context(), q)
	if err != nil {
		internalError(w, r, err, "failed to list items")
		return
	}

	out := make([]publicItem, 0, len(items))
	for i := range items {
		out = append(out, newPublicItem(&items[i]))
	}
	jsonResponse(w, http.StatusOK, out)
}

// Create handles POST /api/items. The body is either JSON or a multipart
// form with the JSON in an "item" field and an optional "image" file.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	multipart := strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")

	if multipart {
		r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadSize+maxBodySize)
		if err := r.ParseMultipartForm(imaging.MaxUploadSize); err != nil {
			jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
			return
		}
		if err := json.Unmarshal([]byte(r.FormValue("item")), &req); err != nil {
			jsonError(w, http.StatusBadRequest, "invalid item field")
			return
		}
	} else if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		jsonError(w, http.StatusBadRequest, "name required")
		return
	}
	if !req.Type.Valid() {
		jsonError(w, http.StatusBadRequest, "invalid item type")
		return
	}

	// Validate the image before anything is written.
	var img *imaging.Image
	if multipart {
		file, _, err := r.FormFile("image")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			jsonError(w, http.StatusBadRequest, "invalid image file")
			return
		default:
			img, err = imaging.Normalize(file)
			file.Close()
			if err != nil {
				jsonError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
	}

	item, err := store.CreateItem(r.Context(), h.DB, &model.Item{
		Type:                     req.Type,
		Name:                     req.Name,
		Description:              strings.TrimSpace(req.Description),
		FoundDate:                req.FoundDate,
		Location:                 strings.TrimSpace(req.Location),
		ContactInfo:              strings.TrimSpace(req.ContactInfo),
		ExtractedInfo:            req.ExtractedInfo,
		PhoneNumber:              strings.TrimSpace(req.PhoneNumber),
		SuggestedPickupLocations: req.PickupLocations,
	})
	if err != nil {
		internalError(w, r, err, "failed to create item")
		return
	}

	if img != nil {
		if err := h.saveImage(r.Context(), item, img); err != nil {
			internalError(w, r, err, "failed to save image")
			return
		}
	}

	log.Info().Str("item_id", item.ID).Str("type", string(item.Type)).Msg("item reported")
	h.publish(r.Context(), events.KindItemCreated, item)

	jsonResponse(w, http.StatusCreated, item)
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, ok := h.load(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, newPublicItem(item))
}

// Fields handles GET /api/items/{id}/fields.
func (h *ItemsHandler) Fields(w http.ResponseWriter, r *http.Request) {
	item, ok := h.load(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"type":   item.Type,
		"fields": verify.RequiredFields(item.Type),
	})
}

// GetImage handles GET /api/items/{id}/image. Documents are served blurred.
func (h *ItemsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	item, ok := h.load(w, r)
	if !ok {
		return
	}
	if !item.HasImage() {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}

	data, err := h.Media.Get(r.Context(), item.ImageRef)
	if errors.Is(err, media.ErrNotFound) {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}
	if err != nil {
		internalError(w, r, err, "failed to get image")
		return
	}

	mime := item.ImageMime
	if verify.Sensitive(item.Type) {
		blurred, err := imaging.Blur(data)
		if err != nil {
			internalError(w, r, err, "failed to prepare image")
			return
		}
		data, mime = blurred.Data, blurred.MIME
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

// UploadImage handles PUT /api/items/{id}/image.
func (h *ItemsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	item, ok := h.load(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadSize+maxBodySize)
	if err := r.ParseMultipartForm(imaging.MaxUploadSize); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	img, err := imaging.Normalize(file)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.saveImage(r.Context(), item, img); err != nil {
		internalError(w, r, err, "failed to save image")
		return
	}

	log.Info().
		Str("user", GetSession(r.Context()).Username).
		Str("item_id", item.ID).
		Int("width", img.Width).
		Int("height", img.Height).
		Msg("item image uploaded")
	h.publish(r.Context(), events.KindItemStatusChanged, item)

	jsonResponse(w, http.StatusOK, map[string]string{"message": "image uploaded"})
}

func (h *ItemsHandler) saveImage(ctx context.Context, item *model.Item, img *imaging.Image) error {
	ref, err := h.Media.Put(ctx, item.ID, img.Data, img.MIME)
	if err != nil {
		return fmt.Errorf("storing image: %w", err)
	}
	if err := store.SetItemImageRef(ctx, h.DB, item.ID, ref, img.MIME); err != nil {
		return err
	}
	item.ImageRef, item.ImageMime = ref, img.MIME
	return nil
}

// load fetches the item named in the path, writing a 404 if it is missing.
func (h *ItemsHandler) load(w http.ResponseWriter, r *http.Request) (*model.Item, bool) {
	item, err := store.GetItem(r.Context(), h.DB, pathID(r))
	if err != nil {
		internalError(w, r, err, "failed to get item")
		return nil, false
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return nil, false
	}
	return item, true
}

func (h *ItemsHandler) publish(ctx context.Context, kind string, item *model.Item) {
	err := h.Events.Publish(ctx, events.Event{
		Kind:   kind,
		ItemID: item.ID,
		Status: item.Status,
		At:     time.Now().UTC(),
	})
	if err != nil {
		log.Warn().Err(err).Str("item_id", item.ID).Msg("publishing event")
	}
}
