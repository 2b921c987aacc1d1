package cli

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/vaultsync/vaultsync/internal/common"
	"github.com/vaultsync/vaultsync/internal/models"
)

var errUsage = errors.New("bad arguments, try 'help'")

func (a *App) cmdAccount(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "create":
		if len(args) != 2 {
			return errUsage
		}
		acc, err := a.accounts.CreateAccount(ctx, args[1])
		if err != nil {
			return err
		}
		a.printf("account %q created, root folder %s\n", acc.Username, acc.RootID)
		return nil

	case "import":
		a.printf("account string: ")
		accountString, err := a.readLine()
		if err != nil {
			return err
		}
		passphrase, err := a.readPassword("passphrase: ")
		if err != nil {
			return err
		}
		acc, err := a.accounts.ImportAccount(ctx, strings.TrimSpace(accountString), []byte(passphrase))
		if err != nil {
			return err
		}
		a.printf("account %q imported; run 'sync' to fetch your files\n", acc.Username)
		return nil

	case "export":
		passphrase, err := a.readPassword("passphrase to protect the export: ")
		if err != nil {
			return err
		}
		exported, err := a.accounts.ExportAccount(ctx, []byte(passphrase))
		if err != nil {
			return err
		}
		a.printf("%s\n", exported)
		return nil

	default:
		return errUsage
	}
}

func (a *App) cmdWhoami(ctx context.Context) error {
	acc, err := a.accounts.GetAccount(ctx)
	if err != nil {
		return err
	}
	a.printf("%s @ %s\n", acc.Username, acc.ServerURL)
	return nil
}

func (a *App) cmdList(ctx context.Context, args []string) error {
	target := "/"
	if len(args) > 0 {
		target = args[0]
	}
	folder, err := a.tree.PathToFile(ctx, target)
	if err != nil {
		return err
	}
	children, err := a.tree.Children(ctx, folder.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		marker := ""
		if child.Type == models.FileTypeFolder {
			marker = "/"
		}
		a.printf("%s%s\n", child.Name, marker)
	}
	return nil
}

func (a *App) cmdCreate(ctx context.Context, args []string, folder bool) error {
	if len(args) != 1 {
		return errUsage
	}
	parentPath, name := splitPath(args[0])
	parent, err := a.tree.PathToFile(ctx, parentPath)
	if err != nil {
		return err
	}

	fileType := models.FileTypeDocument
	if folder {
		fileType = models.FileTypeFolder
	}
	meta, err := a.tree.CreateFile(ctx, parent.ID, name, fileType)
	if err != nil {
		return err
	}
	a.printf("created %s (%s)\n", args[0], meta.ID)
	return nil
}

func (a *App) cmdCat(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	doc, err := a.tree.PathToFile(ctx, args[0])
	if err != nil {
		return err
	}
	data, err := a.tree.ReadDocument(ctx, doc.ID)
	if err != nil {
		return err
	}
	a.printf("%s\n", data)
	return nil
}

func (a *App) cmdWrite(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	doc, err := a.tree.PathToFile(ctx, args[0])
	if err != nil {
		return err
	}
	return a.tree.WriteDocument(ctx, doc.ID, []byte(strings.Join(args[1:], " ")))
}

func (a *App) cmdRename(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	meta, err := a.tree.PathToFile(ctx, args[0])
	if err != nil {
		return err
	}
	return a.tree.RenameFile(ctx, meta.ID, args[1])
}

func (a *App) cmdMove(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	meta, err := a.tree.PathToFile(ctx, args[0])
	if err != nil {
		return err
	}
	target, err := a.tree.PathToFile(ctx, args[1])
	if err != nil {
		if errors.Is(err, common.ErrFileDoesNotExist) {
			return common.ErrTargetParentDoesNotExist
		}
		return err
	}
	return a.tree.MoveFile(ctx, meta.ID, target.ID)
}

func (a *App) cmdRemove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	meta, err := a.tree.PathToFile(ctx, args[0])
	if err != nil {
		return err
	}
	return a.tree.DeleteFile(ctx, meta.ID)
}

func (a *App) cmdSync(ctx context.Context) error {
	report, err := a.sync.ExecuteWork(ctx)
	if report != nil {
		a.printf("applied %d, failed %d, not run %d, pruned %d\n",
			len(report.Applied), len(report.Failed), report.NotRun, report.Pruned)
		for _, f := range report.Failed {
			a.printf("  failed %s (%s): %s\n", f.ID, f.Kind, f.Err)
		}
	}
	return err
}

func (a *App) cmdWork(ctx context.Context) error {
	work, err := a.sync.CalculateWork(ctx)
	if err != nil {
		return err
	}
	if len(work.Units) == 0 {
		a.printf("nothing to sync\n")
		return nil
	}
	for _, u := range work.Units {
		a.printf("%-18s %s %q\n", u.Kind, u.Meta.ID, u.Meta.Name)
	}
	return nil
}

func (a *App) cmdStatus(ctx context.Context) error {
	n, err := a.sync.PendingCount(ctx)
	if err != nil {
		return err
	}
	a.printf("%d pending local change(s)\n", n)
	return nil
}

// splitPath splits "/notes/a.md" into ("/notes", "a.md").
func splitPath(p string) (parent, name string) {
	p = strings.TrimSuffix(p, "/")
	dir, base := path.Split(p)
	if dir == "" {
		dir = "/"
	}
	return dir, base
}
