/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
stratadb-index is an interactive shell over a single StrataDB B+-tree
index: the manual test harness for the storage engine.

Usage:

	stratadb-index [-f page-file] [-name index] [-mem]

Example session:

	strata> insert 42
	OK
	strata> get 42
	42 -> (0,42)
	strata> scan 5
	1 -> (0,1)
	...
	strata> remove 42
	OK
	strata> stats

Keys are 64-bit integers encoded into 8-byte index keys; values are
record ids derived from the key, so loads are reconstructible. `load`
and `unload` stream whitespace-separated integers from a file through
InsertFromFile/RemoveFromFile.
*/
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"stratadb/internal/config"
	"stratadb/internal/logging"
	"stratadb/internal/metrics"
	"stratadb/internal/storage/disk"
	"stratadb/internal/storage/index"
)

// pageFileSalt is the PBKDF2 salt for shell-opened stores. A fixed salt
// keeps an encrypted page file reopenable with just its passphrase.
var pageFileSalt = []byte("stratadb.pagefile.v1")

const keyWidth = 8

var commands = []string{
	"insert", "remove", "get", "scan", "load", "unload",
	"print", "draw", "stats", "flush", "help", "exit", "quit",
}

func main() {
	var (
		fileFlag = flag.String("f", "", "page file path (default <data_dir>/index.pages)")
		nameFlag = flag.String("name", "primary", "index name in the header page")
		memFlag  = flag.Bool("mem", false, "use an in-memory store (discarded on exit)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	cfg.ApplyLogging()
	log := logging.NewLogger("shell")

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.Error("metrics endpoint failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	dm, err := openDiskManager(cfg, *fileFlag, *memFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	pool := disk.NewBufferPool(cfg.EffectivePoolSize(), cfg.ReplacerK, dm)
	tree, err := index.NewBPlusTree(pool, index.Config{
		Name:            *nameFlag,
		KeySize:         keyWidth,
		LeafMaxSize:     cfg.LeafMaxSize,
		InternalMaxSize: cfg.InternalMaxSize,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		pool.Close()
		os.Exit(1)
	}

	rl, err := newReadline()
	if err != nil {
		fmt.Fprintln(os.Stderr, "readline:", err)
		pool.Close()
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Printf("StrataDB index shell - index %q, pool %d pages (type 'help')\n",
		tree.Name(), pool.PoolSize())
	repl(rl, tree, pool)

	if err := pool.Close(); err != nil {
		log.Error("close failed", "error", err)
		os.Exit(1)
	}
}

// openDiskManager builds the configured disk manager stack: memory or
// file-backed, optionally wrapped with encryption. The passphrase comes
// from the environment or, on a terminal, an interactive prompt.
func openDiskManager(cfg *config.Config, path string, mem bool) (disk.DiskManager, error) {
	var dm disk.DiskManager
	if mem {
		dm = disk.NewMemoryDiskManager()
	} else {
		if path == "" {
			if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			path = filepath.Join(cfg.DataDir, "index.pages")
		}
		fdm, err := disk.NewFileDiskManager(path)
		if err != nil {
			return nil, err
		}
		dm = fdm
	}

	if !cfg.EncryptionEnabled {
		return dm, nil
	}
	pass := cfg.EncryptionPassphrase
	if pass == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("Passphrase: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			dm.Close()
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		pass = string(raw)
	}
	edm, err := disk.NewEncryptedDiskManager(dm, pass, pageFileSalt)
	if err != nil {
		dm.Close()
		return nil, err
	}
	return edm, nil
}

func newReadline() (*readline.Instance, error) {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, cmd := range commands {
		items = append(items, readline.PcItem(cmd))
	}
	return readline.NewEx(&readline.Config{
		Prompt:          "strata> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".stratadb_index_history"),
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
}

func repl(rl *readline.Instance, tree *index.BPlusTree, pool *disk.BufferPool) {
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]
		switch cmd {
		case "exit", "quit":
			return
		case "help":
			printHelp()
		case "insert":
			withIntArg(args, func(v int64) {
				ok, err := tree.Insert(index.KeyFromInteger(keyWidth, v), index.RIDFromInteger(v))
				report(ok, err, "duplicate key")
			})
		case "remove":
			withIntArg(args, func(v int64) {
				ok, err := tree.Remove(index.KeyFromInteger(keyWidth, v))
				report(ok, err, "key not found")
			})
		case "get":
			withIntArg(args, func(v int64) {
				rid, found := tree.GetValue(index.KeyFromInteger(keyWidth, v))
				if found {
					fmt.Printf("%d -> %s\n", v, rid)
				} else {
					fmt.Println("key not found")
				}
			})
		case "scan":
			limit := -1
			if len(args) > 0 {
				if v, err := strconv.Atoi(args[0]); err == nil {
					limit = v
				}
			}
			scan(tree, limit)
		case "load":
			withFileArg(args, tree.InsertFromFile)
		case "unload":
			withFileArg(args, tree.RemoveFromFile)
		case "print":
			tree.Print()
		case "draw":
			withFileArg(args, tree.Draw)
		case "flush":
			if err := pool.FlushAllPages(); err != nil {
				fmt.Println("error:", err)
			} else {
				fmt.Println("OK")
			}
		case "stats":
			s := pool.Stats()
			fmt.Printf("pool: %d frames, %d used, %d pinned, %d dirty, %d free, %d evictable\n",
				s.PoolSize, s.UsedFrames, s.PinnedPages, s.DirtyPages, s.FreeFrames, s.Evictable)
			fmt.Printf("hit rate: %.1f%%\n", metrics.Storage().HitRate())
			metrics.Storage().WritePrometheus(os.Stdout)
		default:
			fmt.Printf("unknown command %q (type 'help')\n", cmd)
		}
	}
}

func scan(tree *index.BPlusTree, limit int) {
	it := tree.Begin()
	defer it.Close()
	n := 0
	for ; !it.IsEnd(); it.Next() {
		if limit >= 0 && n >= limit {
			fmt.Println("...")
			break
		}
		fmt.Printf("%d -> %s\n", index.IntegerFromKey(it.Key()), it.Value())
		n++
	}
	fmt.Printf("%d key(s)\n", n)
}

func withIntArg(args []string, fn func(int64)) {
	if len(args) != 1 {
		fmt.Println("expected one integer argument")
		return
	}
	v, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Printf("bad integer %q\n", args[0])
		return
	}
	fn(v)
}

func withFileArg(args []string, fn func(string) error) {
	if len(args) != 1 {
		fmt.Println("expected a file path")
		return
	}
	if err := fn(args[0]); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("OK")
}

func report(ok bool, err error, notOkMsg string) {
	switch {
	case err != nil:
		fmt.Println("error:", err)
	case !ok:
		fmt.Println(notOkMsg)
	default:
		fmt.Println("OK")
	}
}

func printHelp() {
	fmt.Print(`Commands:
  insert <n>     insert integer key n
  remove <n>     remove integer key n
  get <n>        look up integer key n
  scan [limit]   iterate keys in order
  load <file>    insert whitespace-separated integers from file
  unload <file>  remove whitespace-separated integers from file
  print          log the tree structure breadth-first
  draw <file>    write a DOT graph to file
  flush          flush all pages to disk
  stats          buffer pool and storage metrics
  exit           flush and leave
`)
}
