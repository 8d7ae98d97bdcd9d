// Command boxkernel-demo drives a Kernel through a scripted scenario
// and prints each Response, the way the teacher's ublk-mem command
// drives a real block device through create/serve/teardown.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skripsaha/boxkernel"
	"github.com/skripsaha/boxkernel/internal/logging"
	"github.com/skripsaha/boxkernel/internal/wire"
)

// decodeU64 reads the first 8 bytes of a response result, or 0 if the
// result is shorter than that (an error response carries no result).
func decodeU64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func main() {
	var (
		scenario = flag.String("scenario", "tagfs", "scenario to run: tagfs, memory, or proc")
		verbose  = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	k := boxkernel.NewKernel(boxkernel.DefaultKernelConfig(), boxkernel.WithLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- k.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	var err error
	switch *scenario {
	case "tagfs":
		err = runTagFSScenario(k, logger)
	case "memory":
		err = runMemoryScenario(k, logger)
	case "proc":
		err = runProcScenario(k, logger)
	default:
		log.Fatalf("unknown scenario %q (want tagfs, memory, or proc)", *scenario)
	}
	if err != nil {
		logger.Error("scenario failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	if err := k.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", "error", err)
	}
	cancel()
	<-runDone

	if err != nil {
		os.Exit(1)
	}
}

// submitAndWait submits ev and polls until its response is available
// or timeout elapses. This is a synchronous convenience for a
// single-shot demo, not how a real caller should drive a Kernel under
// load.
func submitAndWait(k *boxkernel.Kernel, ev wire.Event, timeout time.Duration) (wire.Response, error) {
	id, err := k.Submit(ev)
	if err != nil {
		return wire.Response{}, err
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if resp, ok := k.Poll(id); ok {
			return resp, nil
		}
		time.Sleep(time.Millisecond)
	}
	return wire.Response{}, fmt.Errorf("boxkernel-demo: timed out waiting for event %d", id)
}

func runMemoryScenario(k *boxkernel.Kernel, logger *logging.Logger) error {
	var payload [8]byte
	(wire.MemoryAllocPayload{Size: 4096}).Encode(payload[:])
	ev := wire.Event{Type: wire.EventMemoryAlloc}
	if err := ev.SetPayload(payload[:]); err != nil {
		return err
	}

	resp, err := submitAndWait(k, ev, time.Second)
	if err != nil {
		return err
	}
	fmt.Printf("MEMORY_ALLOC(4096) -> status=%v addr=%#x\n", resp.Status, decodeU64(resp.ResultBytes()))
	return nil
}

func runTagFSScenario(k *boxkernel.Kernel, logger *logging.Logger) error {
	tags := []wire.Tag{wire.NewTag("kind", "log"), wire.NewTag("host", "demo")}
	createBuf := make([]byte, 12+len(tags)*96)
	n, err := (wire.TagOpPayload{Tags: tags}).Encode(createBuf)
	if err != nil {
		return err
	}
	createEv := wire.Event{Type: wire.EventFileCreateTagged}
	if err := createEv.SetPayload(createBuf[:n]); err != nil {
		return err
	}
	createResp, err := submitAndWait(k, createEv, time.Second)
	if err != nil {
		return err
	}
	inodeID := decodeU64(createResp.ResultBytes())
	fmt.Printf("FILE_CREATE_TAGGED(kind=log,host=demo) -> status=%v inode=%d\n", createResp.Status, inodeID)

	queryBuf := make([]byte, 12+96)
	n, err = (wire.FileQueryPayload{Op: wire.QueryAnd, MaxRes: 16, Tags: []wire.Tag{wire.NewTag("kind", "log")}}).Encode(queryBuf)
	if err != nil {
		return err
	}
	queryEv := wire.Event{Type: wire.EventFileQuery}
	if err := queryEv.SetPayload(queryBuf[:n]); err != nil {
		return err
	}
	queryResp, err := submitAndWait(k, queryEv, time.Second)
	if err != nil {
		return err
	}
	fmt.Printf("FILE_QUERY(kind=log) -> status=%v matches=%d\n", queryResp.Status, (len(queryResp.ResultBytes())-4)/8)

	missBuf := make([]byte, 12+96)
	n, _ = (wire.FileQueryPayload{Op: wire.QueryAnd, MaxRes: 16, Tags: []wire.Tag{wire.NewTag("kind", "nope")}}).Encode(missBuf)
	missEv := wire.Event{Type: wire.EventFileQuery}
	if err := missEv.SetPayload(missBuf[:n]); err != nil {
		return err
	}
	missResp, err := submitAndWait(k, missEv, time.Second)
	if err != nil {
		return err
	}
	fmt.Printf("FILE_QUERY(kind=nope) -> status=%v matches=%d\n", missResp.Status, (len(missResp.ResultBytes())-4)/8)

	removeBuf := make([]byte, 12+96)
	n, _ = (wire.TagOpPayload{InodeID: inodeID, Tags: []wire.Tag{wire.NewTag("kind", "nope")}}).Encode(removeBuf)
	removeEv := wire.Event{Type: wire.EventTagRemove}
	if err := removeEv.SetPayload(removeBuf[:n]); err != nil {
		return err
	}
	removeResp, err := submitAndWait(k, removeEv, time.Second)
	if err != nil {
		return err
	}
	fmt.Printf("TAG_REMOVE(kind=nope, absent) -> status=%v\n", removeResp.Status)
	return nil
}

func runProcScenario(k *boxkernel.Kernel, logger *logging.Logger) error {
	var payload [8]byte
	n, err := (wire.ProcCreatePayload{Name: "init"}).Encode(payload[:])
	if err != nil {
		return err
	}
	ev := wire.Event{Type: wire.EventProcCreate}
	if err := ev.SetPayload(payload[:n]); err != nil {
		return err
	}
	resp, err := submitAndWait(k, ev, time.Second)
	if err != nil {
		return err
	}
	fmt.Printf("PROC_CREATE(init) -> status=%v pid=%d\n", resp.Status, decodeU64(resp.ResultBytes()))
	return nil
}
