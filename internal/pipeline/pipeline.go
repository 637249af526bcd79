// Package pipeline orchestrates enrollment and identification on top of the
// embedding store, the face oracle, exemplar storage and the gate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/fingerprint"
	"github.com/kozaktomas/face-gate/internal/gate"
	"github.com/kozaktomas/face-gate/internal/imagestore"
)

const notifyTimeout = 10 * time.Second

// Upload is one submitted photo.
type Upload struct {
	Data     []byte
	Hash     string // content hash; computed from Data when empty
	Filename string // original name, used for the stored extension
	UserID   string // claimed identity, enrollment only
}

func (u *Upload) hash() string {
	if u.Hash == "" {
		u.Hash = fingerprint.ContentHash(u.Data)
	}
	return u.Hash
}

// EnrollResult describes an accepted enrollment request.
type EnrollResult struct {
	Usable    bool // false when the photo passed detection but failed the quality score
	ImagePath string
}

// IdentifyResult describes a successful identification.
type IdentifyResult struct {
	Label      string
	Similarity int
	Ingested   bool // the photo was added as a new exemplar
	ImagePath  string
	Signal     gate.Signal
	Neighbors  []database.Neighbor
}

// Pipeline runs enrollment and identification requests.
type Pipeline struct {
	store    *database.Store
	engine   *database.MatchEngine
	oracle   fingerprint.Oracle
	images   *imagestore.Store
	notifier gate.Notifier
	log      *slog.Logger

	wg sync.WaitGroup
}

// New creates a pipeline. A nil notifier disables gate signals.
func New(store *database.Store, oracle fingerprint.Oracle, images *imagestore.Store,
	notifier gate.Notifier, logger *slog.Logger) *Pipeline {
	if notifier == nil {
		notifier = gate.NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    store,
		engine:   database.NewMatchEngine(store),
		oracle:   oracle,
		images:   images,
		notifier: notifier,
		log:      logger.With("module", "pipeline"),
	}
}

// Wait blocks until every background gate notification has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Enroll adds a photo under the identity the caller claims.
//
// A photo whose face is already enrolled under another identity is rejected
// with KindIdentityConflict. A photo that is detected but scores below the
// quality threshold is returned with Usable false and is not stored.
func (p *Pipeline) Enroll(ctx context.Context, up Upload) (EnrollResult, error) {
	hash := up.hash()
	if p.store.ContainsHash(hash) {
		return EnrollResult{}, reject(KindDuplicateImage, msgDuplicate)
	}

	assessment, err := p.oracle.Assess(ctx, up.Data)
	if err != nil {
		return EnrollResult{}, p.classify("Enroll", err)
	}
	if !assessment.Usable {
		p.log.Info("enrollment photo below quality threshold",
			"user_id", up.UserID, "score", assessment.Score)
		return EnrollResult{Usable: false}, nil
	}

	if !p.store.IsEmpty() {
		match, err := p.engine.Identify(assessment.Embedding)
		if err != nil && !errors.Is(err, database.ErrEmptyIndex) {
			return EnrollResult{}, p.classify("Enroll", err)
		}
		if err == nil && match.Known() && match.Label != up.UserID {
			p.log.Info("enrollment conflicts with existing identity",
				"claimed", up.UserID, "existing", match.Label, "similarity", match.Similarity)
			return EnrollResult{}, conflict(match.Label)
		}
	}

	path, err := p.ingest(up, up.UserID, assessment.Embedding)
	if err != nil {
		return EnrollResult{}, err
	}
	return EnrollResult{Usable: true, ImagePath: path}, nil
}

// Identify recognises the face in a photo without a claimed identity. A fresh
// photo of a recognised person is stored as an extra exemplar; the gate is
// told whether that happened.
func (p *Pipeline) Identify(ctx context.Context, up Upload) (IdentifyResult, error) {
	if p.store.IsEmpty() {
		return IdentifyResult{}, reject(KindEmptyIndex, msgEmptyIndex)
	}

	hash := up.hash()
	known := p.store.ContainsHash(hash)

	embedding, err := p.oracle.Embed(ctx, up.Data)
	if err != nil {
		return IdentifyResult{}, p.classify("Identify", err)
	}

	match, err := p.engine.Identify(embedding)
	if err != nil {
		return IdentifyResult{}, p.classify("Identify", err)
	}
	if !match.Known() {
		return IdentifyResult{}, reject(KindNotIdentified, msgNotIdentified)
	}

	result := IdentifyResult{
		Label:      match.Label,
		Similarity: match.Similarity,
		Signal:     gate.SignalKnownImage,
		Neighbors:  match.Neighbors,
	}
	if !known {
		path, err := p.ingest(up, match.Label, embedding)
		switch {
		case err == nil:
			result.Ingested = true
			result.ImagePath = path
			result.Signal = gate.SignalNewExemplar
		case isDuplicate(err):
			// Another request stored the same bytes first.
		default:
			return IdentifyResult{}, err
		}
	}

	p.notify(result.Signal)
	return result, nil
}

// ingest stores the exemplar image and adds the embedding under label. The
// image is removed again when the store does not take the entry.
func (p *Pipeline) ingest(up Upload, label string, embedding []float32) (string, error) {
	path, err := p.images.Save(label, up.Filename, up.Data)
	if err != nil {
		return "", p.classify("ingest", fmt.Errorf("saving exemplar: %w", err))
	}

	status, err := p.store.Ingest(embedding, database.IdentityRecord{
		UserID:      label,
		ImagePath:   path,
		ContentHash: up.hash(),
	})
	if status != database.IngestOK {
		if rmErr := p.images.Remove(path); rmErr != nil {
			p.log.Warn("removing unused exemplar failed", "func", "ingest", "path", path, "error", rmErr)
		}
	}
	if err != nil {
		return "", p.classify("ingest", err)
	}
	if status == database.IngestSkipped {
		return "", reject(KindDuplicateImage, msgDuplicate)
	}

	p.log.Info("exemplar ingested", "user_id", label, "path", path)
	return path, nil
}

// notify signals the gate in the background.
func (p *Pipeline) notify(signal gate.Signal) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := p.notifier.Notify(ctx, signal); err != nil {
			p.log.Warn("gate notification failed", "func", "notify", "signal", string(signal), "error", err)
		}
	}()
}

// classify maps an error to a Rejection. Expected failures keep their
// message; everything else is logged and hidden behind the generic message.
func (p *Pipeline) classify(fn string, err error) *Rejection {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej
	}

	var qe *fingerprint.QualityError
	switch {
	case errors.Is(err, fingerprint.ErrNoFace):
		return reject(KindFaceDetection, err.Error())
	case errors.As(err, &qe):
		return reject(KindFaceDetection, qe.Reason)
	case errors.Is(err, database.ErrEmptyIndex):
		return reject(KindEmptyIndex, msgEmptyIndex)
	}

	p.log.Error("unexpected pipeline failure", "func", fn, "error", err)
	return unexpected(err)
}

func isDuplicate(err error) bool {
	var rej *Rejection
	return errors.As(err, &rej) && rej.Kind == KindDuplicateImage
}
