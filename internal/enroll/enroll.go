// Package enroll implements C8: atomically create or replace one
// identity — embed, crop, upload, persist, then install into C2.
// Grounded on original_source's register_db.py (auto_register_faces_once
// and the enroll route it backs), reshaped around the engine-mutex /
// repository / photo-store ports the rest of this module already uses.
package enroll

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/your-org/fd-attendance/internal/apperr"
	"github.com/your-org/fd-attendance/internal/attendance"
	"github.com/your-org/fd-attendance/internal/engine"
	"github.com/your-org/fd-attendance/internal/index"
	"github.com/your-org/fd-attendance/internal/photostore"
	"github.com/your-org/fd-attendance/internal/preview"
	"github.com/your-org/fd-attendance/internal/roster"
)

const cropSize = 512

// Request is C8's input, per spec §4.8.
type Request struct {
	Org          string
	Label        string
	ImageBytes   []byte // empty when PreviewToken resolves
	PreviewToken string
	Force        bool
	Actor        string
}

// Result is returned on success.
type Result struct {
	PersonID string
	ID       int
	PhotoURL string
}

// Service wires C1 (via Engine), C2, C3, C4, and C11 together.
type Service struct {
	repo     roster.Repository
	photos   *photostore.Store
	idx      *index.Index
	eng      *engine.Engine
	previews *preview.Cache
	persons  *attendance.PersonCache

	dupThreshold float64
}

func NewService(repo roster.Repository, photos *photostore.Store, idx *index.Index, eng *engine.Engine, previews *preview.Cache, persons *attendance.PersonCache, dupThreshold float64) *Service {
	return &Service{repo: repo, photos: photos, idx: idx, eng: eng, previews: previews, persons: persons, dupThreshold: dupThreshold}
}

// Enroll runs the full C8 pipeline.
func (s *Service) Enroll(ctx context.Context, req Request) (Result, error) {
	label := strings.TrimSpace(req.Label)
	if label == "" {
		return Result{}, apperr.New(apperr.ValidationError, "label is required")
	}

	imgBytes, box, vec, err := s.resolveInput(ctx, req)
	if err != nil {
		return Result{}, err
	}

	effective := s.idx.Threshold(s.dupThreshold)
	var duplicates []index.Match
	for _, m := range s.idx.MatchAll(vec, effective) {
		if !strings.EqualFold(m.Label, label) {
			duplicates = append(duplicates, m)
		}
	}

	if len(duplicates) > 0 {
		if !req.Force {
			return Result{}, apperr.WithInfo(apperr.Conflict, "a similar face is already enrolled", map[string]any{
				"label": duplicates[0].Label,
				"score": duplicates[0].Score,
			})
		}
		for _, dup := range duplicates {
			if err := s.removeDuplicate(ctx, req.Org, dup.Label); err != nil {
				return Result{}, err
			}
		}
	}

	identities, err := s.repo.ListIdentities(ctx, req.Org)
	if err != nil {
		return Result{}, err
	}

	personID, id, previousPath := resolveIdentity(identities, label)

	img, err := engine.DecodeImage(imgBytes)
	if err != nil {
		return Result{}, err
	}
	crop := engine.CropForEnroll(img, box, cropSize)
	if crop == nil {
		return Result{}, apperr.New(apperr.ValidationError, "could not crop the detected face")
	}

	path, publicURL, err := s.photos.Put(ctx, personID, crop, previousPath)
	if err != nil {
		return Result{}, err
	}

	now := time.Now()
	newIdentity := roster.Identity{
		ID: id, PersonID: personID, Label: label, Embedding: vec,
		PhotoPath: path, BBox: [4]float64{box.X, box.Y, box.W, box.H}, Ts: now,
	}
	updated := replaceOrAppend(identities, newIdentity)

	if err := s.repo.ReplaceIdentities(ctx, req.Org, updated); err != nil {
		return Result{}, apperr.Wrap(apperr.Transient, "persist identity", err)
	}

	if err := s.idx.Put(label, vec); err != nil {
		// Partial failure per spec §4.8: C3 succeeded, schedule a full
		// refresh and still return success rather than fail the request.
		go s.idx.LoadFromPairs(embeddingsByLabel(updated))
	}
	if s.persons != nil {
		s.persons.Invalidate()
	}
	if req.PreviewToken != "" {
		s.previews.Consume(req.PreviewToken)
	}

	return Result{PersonID: personID, ID: id, PhotoURL: publicURL}, nil
}

// resolveInput implements step 1: prefer a resolved preview token, else
// decode + detect the max-score box + embed fresh.
func (s *Service) resolveInput(ctx context.Context, req Request) ([]byte, engine.Box, []float32, error) {
	if req.PreviewToken != "" {
		entry, ok := s.previews.Get(req.PreviewToken)
		if !ok {
			return nil, engine.Box{}, nil, apperr.New(apperr.NotFound, "preview token expired or unknown")
		}
		return entry.ImageBytes, entry.PrimaryBox, entry.Embedding, nil
	}

	if len(req.ImageBytes) == 0 {
		return nil, engine.Box{}, nil, apperr.New(apperr.ValidationError, "image_bytes or preview_token is required")
	}

	img, err := engine.DecodeImage(req.ImageBytes)
	if err != nil {
		return nil, engine.Box{}, nil, err
	}

	var box engine.Box
	var vec []float32
	err = s.eng.WithLock(ctx, func(h engine.Held) error {
		boxes, err := s.eng.Detect(h, img)
		if err != nil {
			return err
		}
		if len(boxes) == 0 {
			return apperr.New(apperr.ValidationError, "no face detected")
		}
		box = maxScoreBox(boxes)
		vec, err = s.eng.Embed(h, img, box)
		return err
	})
	if err != nil {
		return nil, engine.Box{}, nil, err
	}
	return req.ImageBytes, box, vec, nil
}

// Preview runs C1 detect+embed against imageBytes and returns a
// preview.Entry ready to be stashed under a token by C11, without
// touching C2/C3/C4 — the "prepare (not persist) an enrollment
// candidate" half of spec §4.11. The caller (the preview HTTP handler)
// owns token generation and storage.
func (s *Service) Preview(ctx context.Context, imageBytes []byte) (preview.Entry, engine.Box, error) {
	_, box, vec, err := s.resolveInput(ctx, Request{ImageBytes: imageBytes})
	if err != nil {
		return preview.Entry{}, engine.Box{}, err
	}
	return preview.Entry{ImageBytes: imageBytes, PrimaryBox: box, Embedding: vec}, box, nil
}

func maxScoreBox(boxes []engine.Box) engine.Box {
	best := boxes[0]
	for _, b := range boxes[1:] {
		if b.Score > best.Score {
			best = b
		}
	}
	return best
}

// removeDuplicate implements step 4: drop a conflicting label from C2
// and best-effort remove its photo.
func (s *Service) removeDuplicate(ctx context.Context, org, label string) error {
	if err := s.idx.Remove(label); err != nil {
		return err
	}
	identities, err := s.repo.ListIdentities(ctx, org)
	if err != nil {
		return err
	}
	for _, id := range identities {
		if id.Label == label {
			_ = s.photos.Remove(ctx, id.PhotoPath)
		}
	}
	return nil
}

// resolveIdentity implements step 5: reuse (person_id, id) if label
// already exists in org, else allocate a fresh person_id and the next
// integer id.
func resolveIdentity(identities []roster.Identity, label string) (personID string, id int, previousPhotoPath string) {
	maxID := 0
	for _, existing := range identities {
		if existing.ID > maxID {
			maxID = existing.ID
		}
		if strings.EqualFold(existing.Label, label) {
			return existing.PersonID, existing.ID, existing.PhotoPath
		}
	}
	return genPersonID(), maxID + 1, ""
}

func replaceOrAppend(identities []roster.Identity, next roster.Identity) []roster.Identity {
	out := make([]roster.Identity, 0, len(identities)+1)
	replaced := false
	for _, existing := range identities {
		if existing.ID == next.ID {
			out = append(out, next)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, next)
	}
	return out
}

func embeddingsByLabel(identities []roster.Identity) map[string][]float32 {
	out := make(map[string][]float32, len(identities))
	for _, id := range identities {
		out[id.Label] = id.Embedding
	}
	return out
}

const personIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// genPersonID mints an id shaped "p-xxxx-xxx-xxx", grounded on
// original_source's _gen_person_id (secrets.randbelow over the same
// base36 alphabet).
func genPersonID() string {
	seg := func(n int) string {
		b := make([]byte, n)
		idx := make([]byte, n)
		_, _ = rand.Read(idx)
		for i := 0; i < n; i++ {
			b[i] = personIDAlphabet[int(idx[i])%len(personIDAlphabet)]
		}
		return string(b)
	}
	return fmt.Sprintf("p-%s-%s-%s", seg(4), seg(3), seg(3))
}
