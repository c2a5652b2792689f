// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/united-manufacturing-hub/maintenance-sync/cmd/maintenance-sync/source"
	"github.com/united-manufacturing-hub/maintenance-sync/internal/classify"
)

const (
	lastLimit   = 20
	activeLimit = 50
	searchLimit = 20

	browserCacheTTL = 30 * time.Second
)

// WorkOrderSource reads breakdown reports for the browser.
type WorkOrderSource interface {
	LastWorkOrders(ctx context.Context, limit int) ([]source.WorkOrder, error)
	ActiveWorkOrders(ctx context.Context, limit int) ([]source.WorkOrder, error)
	SearchWorkOrders(ctx context.Context, keyword string, limit int) ([]source.WorkOrder, error)
}

// WorkOrderView is a work order with rendered duration and downtime type.
type WorkOrderView struct {
	source.WorkOrder
	Duration     string                `json:"duration"`
	DowntimeType classify.DowntimeType `json:"downtimeType"`
}

type workOrderBrowser struct {
	src   WorkOrderSource
	cache *cache.Cache
}

func newWorkOrderBrowser(src WorkOrderSource) *workOrderBrowser {
	return &workOrderBrowser{src: src, cache: cache.New(browserCacheTTL, 2*browserCacheTTL)}
}

func (b *workOrderBrowser) register(g *gin.RouterGroup) {
	last := b.handler(func(ctx context.Context, _ *gin.Context) ([]source.WorkOrder, error) {
		return b.src.LastWorkOrders(ctx, lastLimit)
	})
	g.GET("/last-15", last)
	g.GET("/dashboard", last)
	g.GET("/active", b.handler(func(ctx context.Context, _ *gin.Context) ([]source.WorkOrder, error) {
		return b.src.ActiveWorkOrders(ctx, activeLimit)
	}))
	g.GET("/search", b.handler(func(ctx context.Context, c *gin.Context) ([]source.WorkOrder, error) {
		return b.src.SearchWorkOrders(ctx, strings.TrimSpace(c.Query("keyword")), searchLimit)
	}))
}

type loadFunc func(ctx context.Context, c *gin.Context) ([]source.WorkOrder, error)

// handler serves cached views; the cache key is the route plus the keyword.
func (b *workOrderBrowser) handler(load loadFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() == "/api/work-orders/search" && strings.TrimSpace(c.Query("keyword")) == "" {
			writeJSON(c, http.StatusBadRequest, gin.H{"error": "keyword is required"})
			return
		}
		key := c.FullPath() + "?" + strings.ToLower(strings.TrimSpace(c.Query("keyword")))
		if v, ok := b.cache.Get(key); ok {
			writeJSON(c, http.StatusOK, v)
			return
		}

		wos, err := load(c.Request.Context(), c)
		if err != nil {
			handleInternalServerError(c, err)
			return
		}
		views := Views(wos)
		b.cache.SetDefault(key, views)
		writeJSON(c, http.StatusOK, views)
	}
}

// Views renders work orders for display.
func Views(wos []source.WorkOrder) []WorkOrderView {
	out := make([]WorkOrderView, 0, len(wos))
	for _, wo := range wos {
		out = append(out, WorkOrderView{
			WorkOrder:    wo,
			Duration:     classify.FormatSeconds(wo.DurationSeconds),
			DowntimeType: classify.Downtime(wo.Type),
		})
	}
	return out
}
