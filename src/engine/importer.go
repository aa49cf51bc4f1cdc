package engine

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"shelfdb/src/codec"
	"shelfdb/src/helpers"
)

// ImportDir inserts the documents of every *.json file below srcDir into
// coll. A file holds either one object or an array of objects. Any "id" in
// the source is replaced by a freshly assigned one.
func ImportDir(fs afero.Fs, srcDir string, coll *Collection, logger *zap.SugaredLogger) (int, error) {
	logger = helpers.LoggerOrNop(logger)

	var files []string
	err := afero.Walk(fs, srcDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.EqualFold(filepath.Ext(p), ".json") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return 0, newError(KindIoFailure, srcDir, err)
	}
	sort.Strings(files)

	imported := 0
	var errs error
	for _, file := range files {
		data, err := helpers.ReadDataFile(fs, file)
		if err != nil {
			errs = multierr.Append(errs, newError(KindIoFailure, file, err))
			continue
		}
		docs, err := codec.ParseDocuments(data)
		if err != nil {
			logger.Warnw("Skipping unparsable import file", "file", file, "error", err)
			errs = multierr.Append(errs, newError(KindParseFailure, file, err))
			continue
		}

		for i, doc := range docs {
			if _, err := coll.Create(doc); err != nil {
				if IsPartial(err) {
					imported++
				}
				errs = multierr.Append(errs, errors.Wrapf(err, "%s: document %d", file, i))
				if KindOf(err) == KindHeaderUpdateFailure || KindOf(err) == KindNotLive {
					return imported, err
				}
				continue
			}
			imported++
		}
	}

	logger.Infow("Imported documents", "collection", coll.Name(), "files", len(files), "documents", imported)
	return imported, batchError("import", errs)
}
