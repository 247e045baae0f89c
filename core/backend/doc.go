/*
Package backend implements the configurable backend

A backend manages a document store and provides an auto-generated RESTful-API for it.

Configuration

The configuration is done entirely via JSON. It consists of collections, each with a
field schema.

Example:
  {
	"collections": [
	  {
		"name": "Task",
		"description": "things to do",
		"history": true,
		"timestamps": true,
		"user_space": { "field": "_owner", "ignore": ["admin"] },
		"schema": {
		  "id": { "type": "number", "idField": true, "autoIncrement": true, "startAt": 1000 },
		  "title": { "type": "string", "required": true, "maxLength": 200 },
		  "status": { "type": "string", "enum": ["new", "done"], "default": "new" },
		  "due": { "type": "date", "default": "$now" }
		}
	  }
	]
  }

The example creates a collection "Task" with an auto-increment identifier. Every update
keeps the previous state of a task in the companion collection "task_history". Tasks
are owned by the authenticated caller who created them, unless the caller has the
role admin.

The resource path of a collection is its "url", or the lower-cased name. The
configuration above creates the following REST routes below the base URL:

	PUT /task
	GET /task
	POST /task
	DELETE /task
	GET /task/{id}
	PUT /task/{id}
	DELETE /task/{id}
	GET /task/{id}/version
	GET /task/{id}/version/{version}
	DELETE /task/{id}/version/{version}
	POST /task/{id}/rollback
	POST /task/{id}/rollback/{version}

PUT on the collection saves a single record or an array of records. Records without an
identifier, or with an identifier which is not stored yet, are created. Stored records
are updated with the given fields if any of them differ. The query parameters createOnly
and updateOnly restrict a save to one of the two.

GET and POST on the collection list records. Query string parameters, and for POST the
body as well, are used as filter. The parameters limit, skip, sort, fields and count
control paging, sorting, projection and counting:

	GET /task?status=new&sort=-due&limit=10&fields=title,due

DELETE on the collection deletes all records matching the filter.

Versions

The version routes exist only for collections with history. Every update of a record
creates a history entry with the previous state and its revision. A version is
addressed by its revision, the live record being the latest one. Rolling back to a
version removes all later versions.

Ownership

With a user_space, reads and writes are restricted to the records owned by the
caller identity. Unauthenticated callers see nothing and cannot write.
*/
package backend
