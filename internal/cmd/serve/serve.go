package serve

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/heliocloud-data/registry/internal/config"
	"github.com/heliocloud-data/registry/internal/server"
)

func NewCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the registry HTTP server exposing ingest and catalog rebuild",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("registry.serve")

			c, err := config.NewRegistryFromFile(configPath)
			if err != nil {
				return err
			}

			s, err := config.InitializeStore(c, l)
			if err != nil {
				return err
			}

			repo, err := config.InitializeRepository(cmd.Context(), c, l)
			if err != nil {
				return err
			}
			defer repo.Close(cmd.Context())

			ing, err := config.InitializeIngester(c, s, repo, l)
			if err != nil {
				return err
			}

			cat, err := config.InitializeCataloger(c, s, repo, l)
			if err != nil {
				return err
			}

			srv := server.New(
				server.WithLogger(l),
				server.WithIngester(ing),
				server.WithCataloger(cat),
			)

			logMiddleware := func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					start := time.Now()
					ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

					defer func() {
						l.Info("request",
							zap.String("from", r.RemoteAddr),
							zap.String("protocol", r.Proto),
							zap.String("method", r.Method),
							zap.String("path", r.URL.Path),
							zap.Int("status", ww.Status()),
							zap.Int("bytes", ww.BytesWritten()),
							zap.Duration("duration", time.Since(start)),
						)
					}()

					next.ServeHTTP(ww, r)
				})
			}

			r := chi.NewRouter()
			r.Use(logMiddleware)
			r.Mount("/", srv.Routes())

			l.Info("starting server", zap.String("listen", c.Server.Listen))
			return http.ListenAndServe(c.Server.Listen, r)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")

	return cmd
}
