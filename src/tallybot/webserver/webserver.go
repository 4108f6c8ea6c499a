package webserver

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stake-plus/tally-gov-bot/src/shared/data"
	"github.com/stake-plus/tally-gov-bot/src/shared/gov"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/directory"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/reconcile"
)

// Deps are the read-only views the status endpoints expose.
type Deps struct {
	Store     *data.Store
	Directory *directory.Manager
	Engine    *reconcile.Engine
}

func New(deps Deps) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery(), cors.Default())
	attachRoutes(g, deps)
	return g
}

func attachRoutes(g *gin.Engine, deps Deps) {
	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	g.GET("/status", func(c *gin.Context) {
		snap := deps.Directory.Current()

		var subscriptions int64
		deps.Store.DB().Model(&gov.Subscription{}).Count(&subscriptions)

		slugs, _ := deps.Store.SubscribedSlugs()

		c.JSON(http.StatusOK, gin.H{
			"directory": gin.H{
				"daos":        snap.Len(),
				"refreshedAt": snap.RefreshedAt().UTC().Format(time.RFC3339),
				"stale":       deps.Directory.IsStale(),
			},
			"subscriptions": gin.H{
				"total": subscriptions,
				"daos":  len(slugs),
			},
			"reconcile": deps.Engine.Status(),
		})
	})
}
