package task

import (
	"github.com/sahayak-app/sahayak/internal/task/domain"
	"github.com/sahayak-app/sahayak/internal/task/repository"
	taskservice "github.com/sahayak-app/sahayak/internal/task/service"
	"go.uber.org/fx"
)

var Module = fx.Module("task.service",
	fx.Provide(repository.Provide),
	fx.Provide(
		taskservice.NewService,
		func(s *taskservice.Service) domain.Service { return s },
	),
)
