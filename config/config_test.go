package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/macho715/marine-weather-dashboard/config"
	"github.com/macho715/marine-weather-dashboard/internal/guardedfetch"
)

var _ = Describe("Config", func() {
	var tempDir string

	BeforeEach(func() {
		wd, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.Chdir, wd)

		tempDir = GinkgoT().TempDir()
		Expect(os.Chdir(tempDir)).To(Succeed())
	})

	writeConfig := func(content string) {
		err := os.WriteFile(filepath.Join(tempDir, "config.yaml"), []byte(content), 0644)
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("Load", func() {
		Context("without a config file", func() {
			It("should use the defaults", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.Address).To(Equal(":8080"))
				Expect(cfg.Server.Environment).To(Equal(config.EnvDev))
				Expect(cfg.Fetch.Timeout).To(Equal(8 * time.Second))
				Expect(cfg.Fetch.Retries).To(Equal(2))
				Expect(cfg.Fetch.Backoff).To(Equal(400 * time.Millisecond))
				Expect(cfg.Fetch.BackoffFactor).To(Equal(2.0))
				Expect(cfg.Cache.TTL).To(Equal(10 * time.Minute))
				Expect(cfg.Cache.Coalesce).To(BeTrue())
				Expect(cfg.Cache.Backend).To(Equal(config.CacheBackendMemory))
				Expect(cfg.Upstream.Strategy).To(Equal("failover"))
				Expect(cfg.Upstream.Providers).To(ConsistOf(config.ProviderConfig{
					Name: "open-meteo",
					URL:  config.DefaultOpenMeteoURL,
				}))
				Expect(cfg.Marine.DefaultPort).To(Equal("AEJEA"))
			})
		})

		Context("with a valid config file", func() {
			BeforeEach(func() {
				writeConfig(`
server:
  address: "127.0.0.1:9090"
  environment: "prod"
  read_timeout: "5s"

logging:
  level: "debug"
  format: "json"

fetch:
  timeout: "2s"
  retries: 1
  backoff: "100ms"
  jitter_ratio: 0.2
  circuit_threshold: 4

cache:
  ttl: "5m"
  coalesce: false

upstream:
  strategy: "least-response"
  providers:
    - name: "open-meteo"
      url: "https://marine-api.open-meteo.com/v1/marine"
      priority: 0
    - name: "mirror"
      url: "http://localhost:8081/v1/marine"
      priority: 1

prewarm:
  enabled: true
  interval: "1m"
`)
			})

			It("should parse every section", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.Address).To(Equal("127.0.0.1:9090"))
				Expect(cfg.Server.ReadTimeout).To(Equal(5 * time.Second))
				Expect(cfg.Logging.Format).To(Equal("json"))
				Expect(cfg.Fetch.Timeout).To(Equal(2 * time.Second))
				Expect(cfg.Cache.TTL).To(Equal(5 * time.Minute))
				Expect(cfg.Cache.Coalesce).To(BeFalse())
				Expect(cfg.Upstream.Strategy).To(Equal("least-response"))
				Expect(cfg.Upstream.Providers).To(HaveLen(2))
				Expect(cfg.Upstream.Providers[1].Priority).To(Equal(1))
				Expect(cfg.Prewarm.Enabled).To(BeTrue())
				Expect(cfg.Prewarm.Interval).To(Equal(time.Minute))
			})

			It("should convert the fetch section into a policy", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Policy()).To(Equal(guardedfetch.Policy{
					Timeout:          2 * time.Second,
					Retries:          1,
					Backoff:          100 * time.Millisecond,
					BackoffFactor:    2,
					JitterRatio:      0.2,
					CircuitThreshold: 4,
				}))
			})
		})

		Context("with environment variables", func() {
			BeforeEach(func() {
				GinkgoT().Setenv("SERVER_ADDRESS", ":7070")
				GinkgoT().Setenv("FETCH_RETRIES", "0")
				GinkgoT().Setenv("CACHE_TTL", "30s")
			})

			It("should override the defaults", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Address).To(Equal(":7070"))
				Expect(cfg.Fetch.Retries).To(BeZero())
				Expect(cfg.Cache.TTL).To(Equal(30 * time.Second))
			})
		})

		Context("with a .env file", func() {
			BeforeEach(func() {
				err := os.WriteFile(filepath.Join(tempDir, ".env"), []byte("MARINE_DEFAULT_PORT=AEAUH\n"), 0644)
				Expect(err).NotTo(HaveOccurred())
				DeferCleanup(os.Unsetenv, "MARINE_DEFAULT_PORT")
			})

			It("should pick up values from it", func() {
				cfg, err := config.Load()
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Marine.DefaultPort).To(Equal("AEAUH"))
			})
		})

		Context("with an invalid config file", func() {
			It("should reject an unknown strategy", func() {
				writeConfig("upstream:\n  strategy: \"random\"\n")
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})

			It("should reject malformed YAML", func() {
				writeConfig("server: [\n")
				_, err := config.Load()
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Validate", func() {
		var cfg *config.Config

		BeforeEach(func() {
			var err error
			cfg, err = config.Load()
			Expect(err).NotTo(HaveOccurred())
		})

		It("should accept the defaults", func() {
			Expect(cfg.Validate()).To(Succeed())
		})

		DescribeTable("invalid values",
			func(mutate func(*config.Config)) {
				mutate(cfg)
				Expect(cfg.Validate()).NotTo(Succeed())
			},
			Entry("address without port", func(c *config.Config) { c.Server.Address = "localhost" }),
			Entry("unknown environment", func(c *config.Config) { c.Server.Environment = "qa" }),
			Entry("unknown log level", func(c *config.Config) { c.Logging.Level = "trace" }),
			Entry("unknown log format", func(c *config.Config) { c.Logging.Format = "xml" }),
			Entry("zero timeout", func(c *config.Config) { c.Fetch.Timeout = 0 }),
			Entry("negative retries", func(c *config.Config) { c.Fetch.Retries = -1 }),
			Entry("shrinking backoff", func(c *config.Config) { c.Fetch.BackoffFactor = 0.5 }),
			Entry("jitter above one", func(c *config.Config) { c.Fetch.JitterRatio = 1.5 }),
			Entry("zero ttl", func(c *config.Config) { c.Cache.TTL = 0 }),
			Entry("unknown cache backend", func(c *config.Config) { c.Cache.Backend = "memcached" }),
			Entry("redis without address", func(c *config.Config) {
				c.Cache.Backend = config.CacheBackendRedis
				c.Cache.Redis.Address = ""
			}),
			Entry("redis retention shorter than the ttl", func(c *config.Config) {
				c.Cache.Backend = config.CacheBackendRedis
				c.Cache.TTL = 10 * time.Minute
				c.Cache.Redis.Retention = time.Second
			}),
			Entry("no providers", func(c *config.Config) { c.Upstream.Providers = nil }),
			Entry("provider with ftp url", func(c *config.Config) {
				c.Upstream.Providers[0].URL = "ftp://example.com"
			}),
			Entry("provider with uppercase name", func(c *config.Config) {
				c.Upstream.Providers[0].Name = "OpenMeteo"
			}),
			Entry("duplicate provider names", func(c *config.Config) {
				c.Upstream.Providers = append(c.Upstream.Providers, c.Upstream.Providers[0])
			}),
			Entry("lowercase default port", func(c *config.Config) { c.Marine.DefaultPort = "aejea" }),
			Entry("prewarm without interval", func(c *config.Config) {
				c.Prewarm.Enabled = true
				c.Prewarm.Interval = 0
			}),
			Entry("zero metrics buffer", func(c *config.Config) { c.Metrics.BufferSize = 0 }),
		)

		DescribeTable("redis retention against the ttl",
			func(retention time.Duration) {
				cfg.Cache.Backend = config.CacheBackendRedis
				cfg.Cache.Redis.Address = "localhost:6379"
				cfg.Cache.TTL = 10 * time.Minute
				cfg.Cache.Redis.Retention = retention
				Expect(cfg.Validate()).To(Succeed())
			},
			Entry("unbounded", time.Duration(0)),
			Entry("equal to the ttl", 10*time.Minute),
			Entry("longer than the ttl", 24*time.Hour),
		)

		It("should only check redis settings for the redis backend", func() {
			cfg.Cache.Redis.Address = ""
			Expect(cfg.Validate()).To(Succeed())
		})
	})
})
