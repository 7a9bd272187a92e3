package store

import "gorm.io/gorm/clause"

// onConflictUpdate builds an upsert clause keyed on conflictCol that
// overwrites updateCols with the incoming values, matching the
// "INSERT ... ON CONFLICT DO UPDATE" idiom used throughout this layer.
func onConflictUpdate(conflictCol string, updateCols ...string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: conflictCol}},
		DoUpdates: clause.AssignmentColumns(updateCols),
	}
}
