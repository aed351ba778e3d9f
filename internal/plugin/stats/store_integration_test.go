// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

//go:build integration

package stats_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/adchub/adchub/internal/plugin"
	"github.com/adchub/adchub/internal/plugin/stats"
)

var _ = Describe("Stats store", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		store     *stats.Store
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("adchub"),
			postgres.WithUsername("adchub"),
			postgres.WithPassword("adchub"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2)),
		)
		Expect(err).NotTo(HaveOccurred())

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := stats.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeNumerically(">", 0))
		Expect(dirty).To(BeFalse())
		Expect(migrator.Close()).To(Succeed())

		store, err = stats.Connect(ctx, dsn)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if store != nil {
			store.Close()
		}
		if container != nil {
			Expect(container.Terminate(ctx)).To(Succeed())
		}
	})

	It("records a login and accumulates counters", func() {
		p := stats.New(store)
		alice := plugin.User{SID: 1, CID: "CIDALICE", Nick: "alice", ShareSize: 4096, ShareFiles: 9}

		Expect(p.OnLogin(ctx, alice)).To(Succeed())
		Expect(p.OnSearch(ctx, alice, nil)).To(Succeed())
		Expect(p.OnSearch(ctx, alice, nil)).To(Succeed())

		rec, err := store.Get(ctx, "CIDALICE")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Logged).To(BeTrue())
		Expect(rec.SharedSize).To(Equal(int64(4096)))
		Expect(rec.Logins).To(Equal(int64(1)))
		Expect(rec.Searches).To(Equal(int64(2)))

		online, err := store.Online(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(online).To(Equal(int64(1)))
	})

	It("marks a user offline on logout", func() {
		p := stats.New(store)
		Expect(p.OnLogout(ctx, plugin.User{CID: "CIDALICE", Nick: "alice"}, "disconnected")).To(Succeed())

		rec, err := store.Get(ctx, "CIDALICE")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Logged).To(BeFalse())
		Expect(rec.Logins).To(Equal(int64(1)))
	})

	It("resets stale online rows", func() {
		Expect(store.Record(ctx, stats.Sample{CID: "CIDSTALE", Logged: true})).To(Succeed())

		n, err := store.ResetOnline(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeNumerically(">=", 1))

		online, err := store.Online(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(online).To(BeZero())
	})
})
