package main

import (
	"github.com/chrisvdg/recoverycache/server"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	c := server.DefaultConfig()

	configFile := pflag.StringP("config", "f", "", "YAML config file, flags override its values")
	listAddr := pflag.StringP("listenaddr", "l", c.ListenAddr, "http listen address")
	tlsListAddr := pflag.StringP("tlsaddr", "t", c.TLSListenAddr, "https listen address")
	tlsKey := pflag.StringP("tlskey", "k", "", "TLS private key file path")
	tlsCert := pflag.StringP("tlscert", "c", "", "TLS certificate file path")
	tlsOnly := pflag.BoolP("tlsonly", "s", false, "Only serve TLS")
	verbose := pflag.BoolP("verbose", "v", false, "Verbose output")
	origin := pflag.StringP("origin", "o", "", "URL of the site to serve")
	dataDir := pflag.StringP("datadir", "d", c.DataDir, "directory of the cache storage")
	cacheName := pflag.StringP("cachename", "n", c.CacheName, "name of the current cache generation")
	precache := pflag.StringSliceP("precache", "p", c.Precache, "paths stored at install time")
	offlinePage := pflag.String("offlinepage", c.OfflinePage, "page served to failed navigations")
	apiPrefix := pflag.String("apiprefix", c.APIPrefix, "path prefix of API requests")
	pflag.Parse()

	if *configFile != "" {
		err := server.LoadConfigFile(*configFile, c)
		if err != nil {
			log.Fatal(err)
		}
	}

	flags := pflag.CommandLine
	if flags.Changed("listenaddr") {
		c.ListenAddr = *listAddr
	}
	if flags.Changed("tlsaddr") {
		c.TLSListenAddr = *tlsListAddr
	}
	if flags.Changed("tlskey") {
		c.TLS.KeyFile = *tlsKey
	}
	if flags.Changed("tlscert") {
		c.TLS.CertFile = *tlsCert
	}
	if flags.Changed("tlsonly") {
		c.TLSOnly = *tlsOnly
	}
	if flags.Changed("verbose") {
		c.Verbose = *verbose
	}
	if flags.Changed("origin") {
		c.Origin = *origin
	}
	if flags.Changed("datadir") {
		c.DataDir = *dataDir
	}
	if flags.Changed("cachename") {
		c.CacheName = *cacheName
	}
	if flags.Changed("precache") {
		c.Precache = *precache
	}
	if flags.Changed("offlinepage") {
		c.OfflinePage = *offlinePage
	}
	if flags.Changed("apiprefix") {
		c.APIPrefix = *apiPrefix
	}

	if c.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	s, err := server.New(c)
	if err != nil {
		log.Fatal(err)
	}

	err = s.ListenAndServe()
	if err != nil {
		log.Fatal(err)
	}
}
