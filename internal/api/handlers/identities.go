package handlers

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/fd-attendance/internal/enroll"
	"github.com/your-org/fd-attendance/internal/index"
	"github.com/your-org/fd-attendance/internal/photostore"
	"github.com/your-org/fd-attendance/internal/preview"
	"github.com/your-org/fd-attendance/internal/roster"
	"github.com/your-org/fd-attendance/internal/wib"
	"github.com/your-org/fd-attendance/pkg/dto"
)

// IdentityHandler serves the C2/C3-backed roster endpoints and wraps C8
// (enrollment) and C11 (preview). These HTTP routes are external
// collaborators per spec §1 ("HTTP route wiring... is out of scope");
// this handler is a thin adapter onto internal/enroll, internal/index,
// and internal/roster.
type IdentityHandler struct {
	repo     roster.Repository
	idx      *index.Index
	photos   *photostore.Store
	enroller *enroll.Service
	previews *preview.Cache
}

func NewIdentityHandler(repo roster.Repository, idx *index.Index, photos *photostore.Store, enroller *enroll.Service, previews *preview.Cache) *IdentityHandler {
	return &IdentityHandler{repo: repo, idx: idx, photos: photos, enroller: enroller, previews: previews}
}

// processOrg is the organization this process's in-memory C2/C5/C9 state
// is scoped to (set once from config at startup by NewRouter). C3's
// repository is multi-tenant, but a single process serves a single org.
var processOrg = "default"

// SetProcessOrg configures the org every handler in this package scopes
// its repository calls to. Called once from api.NewRouter at startup.
func SetProcessOrg(org string) {
	if org != "" {
		processOrg = org
	}
}

func orgFrom(c *gin.Context) string {
	return processOrg
}

func (h *IdentityHandler) List(c *gin.Context) {
	identities, err := h.repo.ListIdentities(c.Request.Context(), orgFrom(c))
	if err != nil {
		writeErr(c, err)
		return
	}

	resp := make([]dto.IdentityResponse, 0, len(identities))
	for _, id := range identities {
		resp = append(resp, dto.IdentityResponse{
			ID: id.ID, PersonID: id.PersonID, Label: id.Label,
			PhotoURL: id.PhotoURL, BBox: id.BBox, Timestamp: wib.ISO(id.Ts),
		})
	}
	c.JSON(http.StatusOK, dto.IdentityListResponse{Identities: resp})
}

func (h *IdentityHandler) Get(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return
	}

	identities, err := h.repo.ListIdentities(c.Request.Context(), orgFrom(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	for _, ident := range identities {
		if ident.ID == id {
			c.JSON(http.StatusOK, dto.IdentityResponse{
				ID: ident.ID, PersonID: ident.PersonID, Label: ident.Label,
				PhotoURL: ident.PhotoURL, BBox: ident.BBox, Timestamp: wib.ISO(ident.Ts),
			})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
}

// Delete removes one identity from C3 and C2, and optionally its photo.
func (h *IdentityHandler) Delete(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return
	}
	org := orgFrom(c)

	identities, err := h.repo.ListIdentities(c.Request.Context(), org)
	if err != nil {
		writeErr(c, err)
		return
	}

	out := identities[:0:0]
	var removed *roster.Identity
	for _, ident := range identities {
		if ident.ID == id {
			cp := ident
			removed = &cp
			continue
		}
		out = append(out, ident)
	}
	if removed == nil {
		c.JSON(http.StatusOK, gin.H{"status": "deleted"}) // idempotent delete, per spec §8 invariant 7
		return
	}

	if err := h.repo.ReplaceIdentities(c.Request.Context(), org, out); err != nil {
		writeErr(c, err)
		return
	}
	_ = h.idx.Remove(removed.Label)
	if c.Query("cascade_photo") == "true" {
		_ = h.photos.Remove(c.Request.Context(), removed.PhotoPath)
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Preview runs C1 detect+embed against an uploaded image and stashes the
// result in C11 without persisting anything, per spec §4.11.
func (h *IdentityHandler) Preview(c *gin.Context) {
	var req dto.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	imageBytes, err := base64.StdEncoding.DecodeString(req.ImageB64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image_b64 is not valid base64"})
		return
	}

	entry, box, err := h.enroller.Preview(c.Request.Context(), imageBytes)
	if err != nil {
		writeErr(c, err)
		return
	}

	token := uuid.New().String()
	h.previews.Store(token, entry)
	c.JSON(http.StatusOK, dto.PreviewResponse{Token: token, BBox: [4]float64{box.X, box.Y, box.W, box.H}})
}

// Enroll runs C8's full create-or-replace pipeline.
func (h *IdentityHandler) Enroll(c *gin.Context) {
	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var imageBytes []byte
	if req.ImageB64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ImageB64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image_b64 is not valid base64"})
			return
		}
		imageBytes = decoded
	}

	actor := c.GetString("actor")
	result, err := h.enroller.Enroll(c.Request.Context(), enroll.Request{
		Org: orgFrom(c), Label: req.Label, ImageBytes: imageBytes,
		PreviewToken: req.PreviewToken, Force: req.Force, Actor: actor,
	})
	if err != nil {
		writeErr(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.EnrollResponse{PersonID: result.PersonID, ID: result.ID, PhotoURL: result.PhotoURL})
}
