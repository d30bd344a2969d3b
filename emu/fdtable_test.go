package emu_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvemu/emu"
)

var _ = Describe("FDTable", func() {
	var table *emu.FDTable

	// Guest ABI encoding: O_WRONLY|O_CREAT|O_TRUNC.
	const guestWriteFlags = 0x1 | 0x40 | 0x200

	BeforeEach(func() {
		table = emu.NewFDTable()
	})

	It("should preopen the standard streams", func() {
		Expect(table.IsOpen(0)).To(BeTrue())
		Expect(table.IsOpen(1)).To(BeTrue())
		Expect(table.IsOpen(2)).To(BeTrue())
		Expect(table.IsOpen(3)).To(BeFalse())
	})

	It("should translate guest open flags for host files", func() {
		path := filepath.Join(GinkgoT().TempDir(), "out.txt")

		fd, err := table.Open(emu.GuestAtFDCWD, path, guestWriteFlags, 0644)
		Expect(err).NotTo(HaveOccurred())
		Expect(fd).To(Equal(uint64(3)))

		n, err := table.Write(fd, []byte("guest"))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(5))
		Expect(table.Close(fd)).To(Succeed())

		contents, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(contents)).To(Equal("guest"))
	})

	It("should read back through a read-only descriptor", func() {
		path := filepath.Join(GinkgoT().TempDir(), "in.txt")
		Expect(os.WriteFile(path, []byte("data"), 0644)).To(Succeed())

		fd, err := table.Open(emu.GuestAtFDCWD, path, 0x0, 0)
		Expect(err).NotTo(HaveOccurred())

		buf := make([]byte, 4)
		n, err := table.Read(fd, buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(buf[:n]).To(Equal([]byte("data")))

		pos, err := table.Seek(fd, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(pos).To(Equal(int64(0)))
	})

	It("should reject relative paths without the cwd sentinel", func() {
		_, err := table.Open(5, "relative.txt", 0x0, 0)
		Expect(err).To(HaveOccurred())
	})

	It("should honor the directory flag", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "plain.txt")
		Expect(os.WriteFile(path, []byte("x"), 0644)).To(Succeed())

		// O_DIRECTORY on a regular file must fail.
		_, err := table.Open(emu.GuestAtFDCWD, path, 0x10000, 0)
		Expect(err).To(HaveOccurred())

		fd, err := table.Open(emu.GuestAtFDCWD, dir, 0x10000, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(table.IsOpen(fd)).To(BeTrue())
	})

	It("should report standard streams as character devices", func() {
		info, err := table.Stat(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Mode() & os.ModeCharDevice).NotTo(BeZero())
	})

	It("should refuse operations on closed descriptors", func() {
		path := filepath.Join(GinkgoT().TempDir(), "f.txt")
		fd, err := table.Open(emu.GuestAtFDCWD, path, guestWriteFlags, 0644)
		Expect(err).NotTo(HaveOccurred())
		Expect(table.Close(fd)).To(Succeed())

		_, err = table.Write(fd, []byte("x"))
		Expect(err).To(HaveOccurred())
		Expect(table.Close(fd)).NotTo(Succeed())
	})
})
