//go:build protogen

package catalog

import (
	"context"
	"time"

	"github.com/mfrederiksen/tutorbase/libs/grpcx"
	catalogv1 "github.com/mfrederiksen/tutorbase/protos/gen/catalog/v1"
)

// GRPCProvider queries catalog-service over gRPC. Built only with the
// protogen tag because it depends on generated proto stubs.
type GRPCProvider struct {
	client catalogv1.CatalogServiceClient
}

func NewGRPCProvider(addr string) (*GRPCProvider, error) {
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &GRPCProvider{client: catalogv1.NewCatalogServiceClient(conn)}, nil
}

func (p *GRPCProvider) ListSlots(ctx context.Context, tutorID, fromDate, toDate string) ([]SlotTemplate, error) {
	resp, err := p.client.ListSlots(ctx, &catalogv1.ListSlotsRequest{
		TutorId:  tutorID,
		FromDate: fromDate,
		ToDate:   toDate,
	})
	if err != nil {
		return nil, err
	}
	slots := make([]SlotTemplate, 0, len(resp.GetSlots()))
	for _, s := range resp.GetSlots() {
		slots = append(slots, SlotTemplate{
			ID:          s.GetId(),
			TutorID:     s.GetTutorId(),
			Date:        s.GetDate(),
			StartMinute: int(s.GetStartMinute()),
			EndMinute:   int(s.GetEndMinute()),
		})
	}
	return slots, nil
}

func (p *GRPCProvider) TutorExists(ctx context.Context, tutorID string) (bool, error) {
	resp, err := p.client.TutorExists(ctx, &catalogv1.TutorExistsRequest{TutorId: tutorID})
	if err != nil {
		return false, err
	}
	return resp.GetExists(), nil
}
