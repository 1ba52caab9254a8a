package appraisal

import (
	"context"
	"errors"

	"appraisal/internal/domain/auth"
)

type RoleDirectory interface {
	RoleOf(ctx context.Context, userID string) (string, error)
}

var DefaultStageRoles = map[Stage][]string{
	StageSelfEval:      {auth.RoleEmployee, auth.RoleManager, auth.RoleHR},
	StageManagerReview: {auth.RoleManager},
	StageSkipLevel:     {auth.RoleManager, auth.RoleDirector},
	StageHRConfirm:     {auth.RoleHR},
}

// DirectoryGate allows a user to act on a stage when their role is listed for it.
type DirectoryGate struct {
	Directory  RoleDirectory
	StageRoles map[Stage][]string
}

func NewDirectoryGate(dir RoleDirectory) *DirectoryGate {
	return &DirectoryGate{Directory: dir, StageRoles: DefaultStageRoles}
}

func (g *DirectoryGate) CanAct(ctx context.Context, userID string, stage Stage, _ Submission) (bool, error) {
	role, err := g.Directory.RoleOf(ctx, userID)
	if errors.Is(err, auth.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, allowed := range g.StageRoles[stage] {
		if role == allowed {
			return true, nil
		}
	}
	return false, nil
}
