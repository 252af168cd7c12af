package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"design-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprovalFlow(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	design := f.newDesign(t, 50000)
	assert.Equal(t, models.DesignWaiting, design.Status)
	assert.Equal(t, 1, design.Version)

	design, err := f.workflow.Assign(ctx, f.designer, design.ID, f.designer.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.DesignInProgress, design.Status)
	assert.Equal(t, f.designer.UserID, design.DesignerID)

	design, err = f.workflow.Submit(ctx, f.designer, design.ID, "s3://designs/v1.pdf")
	require.NoError(t, err)
	assert.Equal(t, models.DesignPendingApproval, design.Status)

	design, err = f.workflow.Approve(ctx, f.customer, design.ID, ApproveRequest{Approved: true})
	require.NoError(t, err)
	assert.Equal(t, models.DesignCompleted, design.Status)
	assert.False(t, design.Paid)
	assert.Empty(t, design.RejectionReason)

	assert.Equal(t, 1, f.notifier.count(models.EventTypeDesignAssigned))
	assert.Equal(t, 1, f.notifier.count(models.EventTypeDesignSubmitted))
	assert.Equal(t, 1, f.notifier.count(models.EventTypeDesignApproved))
}

func TestRejectAndResubmit(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	design := f.pendingApproval(t, 50000)

	reason := "رنگ نامناسب است"
	rejected, err := f.workflow.Approve(ctx, f.customer, design.ID, ApproveRequest{Approved: false, Reason: reason})
	require.NoError(t, err)
	assert.Equal(t, models.DesignRejected, rejected.Status)
	assert.Equal(t, reason, rejected.RejectionReason)
	assert.Equal(t, design.Version, rejected.Version)

	resubmitted, err := f.workflow.Resubmit(ctx, f.designer, design.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DesignInProgress, resubmitted.Status)
	assert.Equal(t, design.Version+1, resubmitted.Version)
	assert.Empty(t, resubmitted.RejectionReason)

	assert.Equal(t, 1, f.notifier.count(models.EventTypeDesignRejected))
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	design := f.pendingApproval(t, 50000)

	for _, reason := range []string{"", "   ", "\n\t"} {
		_, err := f.workflow.Approve(ctx, f.customer, design.ID, ApproveRequest{Approved: false, Reason: reason})
		assert.ErrorIs(t, err, models.ErrReasonRequired, "reason %q", reason)
	}

	got, err := f.workflow.Get(ctx, design.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DesignPendingApproval, got.Status)

	// a one-character reason is enough
	got, err = f.workflow.Approve(ctx, f.customer, design.ID, ApproveRequest{Approved: false, Reason: "x"})
	require.NoError(t, err)
	assert.Equal(t, models.DesignRejected, got.Status)
}

func TestApproveOutsideReview(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	design := f.newDesign(t, 50000)

	_, err := f.workflow.Approve(ctx, f.customer, design.ID, ApproveRequest{Approved: true})
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	var terr *models.TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, models.DesignWaiting, terr.From)
	assert.Equal(t, EventApprove, terr.Event)
}

func TestNoRejectAfterCompletion(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	design := f.completedDesign(t, 50000)

	_, err := f.workflow.Approve(context.Background(), f.customer, design.ID, ApproveRequest{Approved: false, Reason: "changed my mind"})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestConcurrentApproveAndReject(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	design := f.pendingApproval(t, 50000)

	requests := []ApproveRequest{
		{Approved: true},
		{Approved: false, Reason: "wrong fabric"},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(requests))
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req ApproveRequest) {
			defer wg.Done()
			_, errs[i] = f.workflow.Approve(ctx, f.customer, design.ID, req)
		}(i, req)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	}
	assert.Equal(t, 1, succeeded)

	got, err := f.workflow.Get(ctx, design.ID)
	require.NoError(t, err)
	switch got.Status {
	case models.DesignCompleted:
		assert.Empty(t, got.RejectionReason)
	case models.DesignRejected:
		assert.Equal(t, "wrong fabric", got.RejectionReason)
	default:
		t.Fatalf("unexpected status %s", got.Status)
	}
}

func TestWorkflowPermissions(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	stranger := models.Identity{UserID: "customer-2", Role: models.RoleCustomer}
	otherDesigner := models.Identity{UserID: "designer-2", Role: models.RoleDesigner}

	design := f.newDesign(t, 50000)

	_, err := f.workflow.Assign(ctx, otherDesigner, design.ID, f.designer.UserID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.workflow.Assign(ctx, f.admin, design.ID, f.designer.UserID)
	require.NoError(t, err)

	_, err = f.workflow.Submit(ctx, otherDesigner, design.ID, "s3://x")
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.workflow.Submit(ctx, f.designer, design.ID, "s3://x")
	require.NoError(t, err)

	_, err = f.workflow.Approve(ctx, stranger, design.ID, ApproveRequest{Approved: true})
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.workflow.Create(ctx, stranger, design.OrderID, 100)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.workflow.Create(ctx, f.customer, "missing-order", 100)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSubmitRequiresArtifact(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	design := f.newDesign(t, 50000)

	_, err := f.workflow.Assign(ctx, f.designer, design.ID, f.designer.UserID)
	require.NoError(t, err)

	_, err = f.workflow.Submit(ctx, f.designer, design.ID, " ")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestReviseAfterCompletion(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		design := f.completedDesign(t, 50000)

		_, err := f.workflow.Revise(context.Background(), f.customer, design.ID)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})

	t.Run("enabled", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{workflow: WorkflowOptions{AllowRevisionAfterCompletion: true}})
		ctx := context.Background()
		design := f.completedDesign(t, 50000)

		revised, err := f.workflow.Revise(ctx, f.customer, design.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DesignInProgress, revised.Status)
		assert.Equal(t, design.Version+1, revised.Version)
		assert.Empty(t, revised.ArtifactRef)
	})

	t.Run("blocked by pending payment", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{workflow: WorkflowOptions{AllowRevisionAfterCompletion: true}})
		ctx := context.Background()
		design := f.completedDesign(t, 50000)

		f.openAttempt(t, designTarget(design.ID), design.Price, models.GatewayProviderA)

		_, err := f.workflow.Revise(ctx, f.customer, design.ID)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
	})
}

func TestPayGuards(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	inReview := f.pendingApproval(t, 50000)
	_, err := f.coordinator.PayDesign(ctx, f.customer, inReview.ID, models.GatewayProviderA, 50000, "set design")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	free := f.completedDesign(t, 0)
	_, err = f.coordinator.PayDesign(ctx, f.customer, free.ID, models.GatewayProviderA, 0, "set design")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	design := f.completedDesign(t, 50000)
	_, err = f.coordinator.PayDesign(ctx, f.customer, design.ID, models.GatewayProviderA, 49999, "set design")
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	stranger := models.Identity{UserID: "customer-2", Role: models.RoleCustomer}
	_, err = f.coordinator.PayDesign(ctx, stranger, design.ID, models.GatewayProviderA, 50000, "set design")
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.coordinator.PayDesign(ctx, f.customer, "missing", models.GatewayProviderA, 50000, "set design")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListForOrder(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	design := f.newDesign(t, 50000)

	list, err := f.workflow.ListForOrder(ctx, f.customer, design.OrderID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, design.ID, list[0].ID)

	_, err = f.workflow.ListForOrder(ctx, models.Identity{UserID: "customer-2", Role: models.RoleCustomer}, design.OrderID)
	assert.ErrorIs(t, err, models.ErrForbidden)
}
