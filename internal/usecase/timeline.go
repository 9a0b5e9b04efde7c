package usecase

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/montage-studio/montage"
	"github.com/montage-studio/montage/internal/domain"
)

type TimelineUsecase struct {
	resolver Resolver
	projects ProjectRepository
	media    MediaResolver
}

// NewTimelineUsecase wires the edit path. media is optional; with no media
// resolver configured, insert source ranges are taken at face value.
func NewTimelineUsecase(resolver Resolver, projects ProjectRepository, media MediaResolver) *TimelineUsecase {
	return &TimelineUsecase{resolver: resolver, projects: projects, media: media}
}

// Submit routes an edit to the project's resolver after checking the
// author's role. Viewers get a permission-denied rejection, not an error:
// the outcome travels back over the same acknowledgement path as any
// other disposition.
func (uc *TimelineUsecase) Submit(ctx context.Context, sessionID string, op montage.Operation) (montage.Outcome, error) {
	member, err := uc.projects.GetMember(ctx, op.ProjectID, op.Author)
	if err != nil || !member.Role.CanEdit() {
		return montage.Outcome{
			Status: montage.StatusRejected,
			OpID:   op.ID,
			Reason: montage.ReasonPermissionDenied,
		}, nil
	}
	if outcome, rejected := uc.checkMedia(ctx, op); rejected {
		return outcome, nil
	}
	return uc.resolver.Submit(ctx, sessionID, op)
}

// checkMedia validates an insert-clip source range against the media
// service. An unknown reference or a window past the media's end is
// rejected; a media service outage never blocks editing.
func (uc *TimelineUsecase) checkMedia(ctx context.Context, op montage.Operation) (montage.Outcome, bool) {
	if uc.media == nil || op.Kind != montage.OpInsertClip {
		return montage.Outcome{}, false
	}
	payload, err := op.DecodePayload()
	if err != nil {
		// Malformed payloads take the resolver's rejection path.
		return montage.Outcome{}, false
	}
	p, ok := payload.(*montage.InsertClipPayload)
	if !ok {
		return montage.Outcome{}, false
	}

	info, err := uc.media.Resolve(ctx, p.Clip.MediaRef)
	switch {
	case err == nil:
		if info.DurationMS > 0 && p.Clip.SourceOut > info.DurationMS {
			return montage.Outcome{
				Status: montage.StatusRejected,
				OpID:   op.ID,
				Reason: montage.ReasonInvalidRange,
			}, true
		}
	case errors.Is(err, domain.ErrNotFound):
		return montage.Outcome{
			Status: montage.StatusRejected,
			OpID:   op.ID,
			Reason: montage.ReasonMalformedPayload,
		}, true
	default:
		log.Warn().Err(err).
			Str("media_ref", p.Clip.MediaRef).
			Msg("media lookup failed, skipping source range check")
	}
	return montage.Outcome{}, false
}

// Snapshot returns the current authoritative state. Any member may read.
func (uc *TimelineUsecase) Snapshot(ctx context.Context, requester, projectID string) (montage.TimelineSnapshot, error) {
	if _, err := uc.projects.GetMember(ctx, projectID, requester); err != nil {
		return montage.TimelineSnapshot{}, domain.PermissionDeniedError{UserID: requester}
	}
	return uc.resolver.Snapshot(ctx, projectID)
}

// Sync hands reconnect catch-up to the resolver. deliver runs inside the
// project's serialization point.
func (uc *TimelineUsecase) Sync(ctx context.Context, projectID string, since int64, deliver func(*montage.TimelineSnapshot, []montage.Delta)) error {
	return uc.resolver.Sync(ctx, projectID, since, deliver)
}
