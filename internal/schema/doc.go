// Package schema defines the domain records cached by the offline data layer.
//
// # Overview
//
// Every entity the server hands out (task, project, user, time entry) is
// stored in the local cache as a Record: the verbatim JSON the server
// returned plus a handful of columns extracted once at write time so the
// cache can answer filtered reads through secondary indexes instead of
// scanning.
//
//	{
//	  "id": "task-42",
//	  "title": "Write release notes",
//	  "status": "in_progress",
//	  "project_id": "proj-7",
//	  "assignee": "user-3",
//	  "updated_at": "2026-01-10T07:36:29Z"
//	}
//
// # Last Write Wins
//
// Records are overwritten wholesale on every successful network read of the
// same entity. There is no field-level merge, and two offline clients
// editing the same record resolve through the server's own last-write-wins
// semantics.
//
// # Usage Examples
//
// Caching a task fetched from the API:
//
//	rec, err := task.ToRecord()
//	if err != nil {
//	    return err
//	}
//	err = st.Refresh(ctx, schema.CollectionTasks, rec)
//
// Reading it back:
//
//	rec, _ := st.Get(ctx, schema.CollectionTasks, "task-42")
//	task, err := schema.Decode[schema.Task](rec)
package schema
