// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

//go:build integration

package cli_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

const seedFile = `
roles:
  - name: Support
    description: Help desk
    claims:
      - type: scope
        value: tickets
accounts:
  - user_name: ops
    email: ops@example.com
    password: Passw0rd!
    roles: [Admin, Support]
`

var _ = Describe("Seed Command", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		resetDatabase(ctx, env.pool)
		out, err := gatekeep(ctx, "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate failed: %s", out)
	})

	It("creates the built-in roles", func() {
		out, err := gatekeep(ctx, "seed")
		Expect(err).NotTo(HaveOccurred(), "seed failed: %s", out)
		Expect(out).To(ContainSubstring("Seed complete: 2 roles and 0 accounts created"))

		var count int
		Expect(env.pool.QueryRow(ctx,
			"SELECT COUNT(*) FROM roles WHERE normalized_name IN ('USER', 'ADMIN')").Scan(&count)).To(Succeed())
		Expect(count).To(Equal(2))
	})

	It("creates roles and confirmed accounts from a file, once", func() {
		path := filepath.Join(GinkgoT().TempDir(), "seed.yaml")
		Expect(os.WriteFile(path, []byte(seedFile), 0o600)).To(Succeed())

		out, err := gatekeep(ctx, "seed", "--file", path)
		Expect(err).NotTo(HaveOccurred(), "seed failed: %s", out)
		Expect(out).To(ContainSubstring("Seed complete: 3 roles and 1 accounts created"))

		var confirmed bool
		Expect(env.pool.QueryRow(ctx,
			"SELECT email_confirmed FROM accounts WHERE normalized_email = 'OPS@EXAMPLE.COM'").Scan(&confirmed)).To(Succeed())
		Expect(confirmed).To(BeTrue())

		out, err = gatekeep(ctx, "seed", "--file", path)
		Expect(err).NotTo(HaveOccurred(), "second seed failed: %s", out)
		Expect(out).To(ContainSubstring("Seed complete: 0 roles and 0 accounts created"))
	})

	It("fails with CONFIG_INVALID when the database URL is missing", func() {
		out, err := gatekeep(ctx, "seed", "--database-url", "")
		Expect(err).To(HaveOccurred())
		Expect(out).To(ContainSubstring("url"))
	})
})

var _ = Describe("Role Command", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		resetDatabase(ctx, env.pool)
		out, err := gatekeep(ctx, "migrate")
		Expect(err).NotTo(HaveOccurred(), "migrate failed: %s", out)
		out, err = gatekeep(ctx, "seed")
		Expect(err).NotTo(HaveOccurred(), "seed failed: %s", out)
	})

	It("creates a role, adds a claim and lists it", func() {
		out, err := gatekeep(ctx, "role", "create", "billing", "--description", "Finance team")
		Expect(err).NotTo(HaveOccurred(), out)
		Expect(out).To(ContainSubstring("Created role Billing"))

		out, err = gatekeep(ctx, "role", "add-claim", "Billing", "scope", "invoices")
		Expect(err).NotTo(HaveOccurred(), out)

		out, err = gatekeep(ctx, "role", "list")
		Expect(err).NotTo(HaveOccurred(), out)
		Expect(out).To(ContainSubstring("scope=invoices"))
		Expect(out).To(ContainSubstring("Finance team"))
	})

	It("deletes a role by name", func() {
		_, err := gatekeep(ctx, "role", "create", "Temp")
		Expect(err).NotTo(HaveOccurred())

		out, err := gatekeep(ctx, "role", "delete", "temp")
		Expect(err).NotTo(HaveOccurred(), out)

		out, err = gatekeep(ctx, "role", "list")
		Expect(err).NotTo(HaveOccurred(), out)
		Expect(out).NotTo(ContainSubstring("Temp"))
	})
})

var _ = Describe("Migrate Command", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		resetDatabase(ctx, env.pool)
	})

	It("reports pending then applied migrations", func() {
		out, err := gatekeep(ctx, "migrate", "status")
		Expect(err).NotTo(HaveOccurred(), out)
		Expect(out).To(ContainSubstring("pending  000001_accounts"))

		out, err = gatekeep(ctx, "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), out)

		out, err = gatekeep(ctx, "migrate", "status")
		Expect(err).NotTo(HaveOccurred(), out)
		Expect(out).To(ContainSubstring("applied  000002_roles"))
		Expect(out).To(ContainSubstring("(clean)"))
	})

	It("refuses to roll back without confirmation", func() {
		out, err := gatekeep(ctx, "migrate", "down")
		Expect(err).To(HaveOccurred())
		Expect(out).To(ContainSubstring("--yes"))
	})
})
