package cli

import (
	"context"
	"errors"
	"io"
	"strings"
)

const helpText = `commands:
  account create <username>   register a new account
  account import              restore an account from an export string
  account export              print a passphrase-protected account string
  whoami                      show the current account
  ls [path]                   list a folder (default /)
  mkdir <path>                create a folder
  touch <path>                create an empty document
  cat <path>                  print a document
  write <path> <text>         replace a document's content
  rename <path> <name>        rename a file
  mv <path> <folder-path>     move a file into a folder
  rm <path>                   delete a file
  sync                        run a sync pass
  work                        show pending work without executing
  status                      show pending change count
  help                        this help
  exit                        quit`

func (a *App) repl(ctx context.Context) {
	a.printf("vaultsync, type 'help' for commands\n")
	for {
		a.printf("> ")
		line, err := a.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			a.printf("read error: %v\n", err)
			return
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			return
		}
		a.dispatch(ctx, fields)
	}
}

func (a *App) dispatch(ctx context.Context, args []string) {
	var err error
	switch args[0] {
	case "help":
		a.printf("%s\n", helpText)
	case "account":
		err = a.cmdAccount(ctx, args[1:])
	case "whoami":
		err = a.cmdWhoami(ctx)
	case "ls":
		err = a.cmdList(ctx, args[1:])
	case "mkdir":
		err = a.cmdCreate(ctx, args[1:], true)
	case "touch":
		err = a.cmdCreate(ctx, args[1:], false)
	case "cat":
		err = a.cmdCat(ctx, args[1:])
	case "write":
		err = a.cmdWrite(ctx, args[1:])
	case "rename":
		err = a.cmdRename(ctx, args[1:])
	case "mv":
		err = a.cmdMove(ctx, args[1:])
	case "rm":
		err = a.cmdRemove(ctx, args[1:])
	case "sync":
		err = a.cmdSync(ctx)
	case "work":
		err = a.cmdWork(ctx)
	case "status":
		err = a.cmdStatus(ctx)
	default:
		a.printf("unknown command %q, try 'help'\n", args[0])
	}

	if err != nil {
		a.printf("error: %v\n", err)
	}
}
