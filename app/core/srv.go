package core

import (
	"time"

	"github.com/quka-ai/ragstream/app/core/srv"
	"github.com/quka-ai/ragstream/pkg/r2r"
)

func SetupSrv(core *Core, opts ...srv.ApplyFunc) {
	if len(opts) == 0 {
		opts = []srv.ApplyFunc{
			// retrieval backend
			srv.ApplyRetriever(core.cfg.R2R.ClientConfig(),
				r2r.WithRequestObserver(func(endpoint string, cost time.Duration, err error) {
					core.metrics.BackendRequestObserve(r2r.NAME+endpoint, cost, err)
				})),
			// generation backend of the terminal tier
			srv.ApplyAI(core.cfg.AI, core.metrics.BackendRequestObserve),
		}
	}

	core.srv = srv.SetupSrvs(opts...)
}
