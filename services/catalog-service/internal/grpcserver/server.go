//go:build protogen

package grpcserver

import (
	"context"

	catalogv1 "github.com/mfrederiksen/tutorbase/protos/gen/catalog/v1"
	"github.com/mfrederiksen/tutorbase/services/catalog-service/internal/storage"
	"google.golang.org/grpc"
)

type server struct {
	catalogv1.UnimplementedCatalogServiceServer
	repo *storage.Repository
}

func Register(grpcServer *grpc.Server, repo *storage.Repository) {
	catalogv1.RegisterCatalogServiceServer(grpcServer, &server{repo: repo})
}

func (s *server) ListSlots(ctx context.Context, req *catalogv1.ListSlotsRequest) (*catalogv1.ListSlotsResponse, error) {
	from := req.GetFromDate()
	to := req.GetToDate()
	if to == "" {
		to = from
	}
	slots, err := s.repo.ListSlots(ctx, req.GetTutorId(), from, to)
	if err != nil {
		return nil, err
	}

	out := make([]*catalogv1.SlotTemplate, 0, len(slots))
	for _, sl := range slots {
		out = append(out, &catalogv1.SlotTemplate{
			Id:          sl.ID,
			TutorId:     sl.TutorID,
			Date:        sl.Date,
			StartMinute: int32(sl.StartMinute),
			EndMinute:   int32(sl.EndMinute),
		})
	}
	return &catalogv1.ListSlotsResponse{Slots: out}, nil
}

func (s *server) TutorExists(ctx context.Context, req *catalogv1.TutorExistsRequest) (*catalogv1.TutorExistsResponse, error) {
	exists, err := s.repo.TutorExists(ctx, req.GetTutorId())
	if err != nil {
		return nil, err
	}
	return &catalogv1.TutorExistsResponse{Exists: exists}, nil
}
